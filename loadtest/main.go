package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"campusconnect/internal/chat"
	"campusconnect/internal/client"
	"campusconnect/internal/db"
	"campusconnect/internal/user"
)

var (
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	driver    = flag.String("driver", db.DriverPostgres, "database driver used to seed users")
	dsn       = flag.String("dsn", os.Getenv("DB_DSN"), "database DSN used to seed users")
	secret    = flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret shared with the server")
	pairCount = flag.Int("pairs", 50, "student/alumni pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

func main() {
	flag.Parse()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if *dsn == "" || *secret == "" {
		logger.Fatal().Msg("both -dsn and -secret are required")
	}

	database, err := db.NewDatabase(*driver, *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer database.Close()
	users := user.NewRepository(database)

	logger.Info().Int("users", *pairCount*2).Int("messages", *msgCount).Msg("starting stress test")

	var acked, failed atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()

	// Pair i is student s_i talking to alumnus a_i.
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(users, pairID, &acked, &failed); err != nil {
				logger.Error().Err(err).Int("pair", pairID).Msg("pair failed")
			}
		}(i)
	}

	wg.Wait()
	logger.Info().
		Int64("acked", acked.Load()).
		Int64("failed", failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(users *user.Repository, pairID int, acked, failed *atomic.Int64) error {
	ctx := context.Background()
	student := &user.User{ID: fmt.Sprintf("lt-s%d", pairID), Name: fmt.Sprintf("Student %d", pairID), Role: user.RoleStudent}
	alumnus := &user.User{ID: fmt.Sprintf("lt-a%d", pairID), Name: fmt.Sprintf("Alumnus %d", pairID), Role: user.RoleAlumni}
	for _, u := range []*user.User{student, alumnus} {
		if err := users.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("seed %s: %w", u.ID, err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, pair := range [][2]*user.User{{student, alumnus}, {alumnus, student}} {
		wg.Add(1)
		go func(from, to *user.User) {
			defer wg.Done()
			if err := spamChat(ctx, from, to, acked, failed); err != nil {
				errs <- err
			}
		}(pair[0], pair[1])
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func spamChat(ctx context.Context, from, to *user.User, acked, failed *atomic.Int64) error {
	token, err := signToken(from)
	if err != nil {
		return err
	}
	conn, err := client.Dial(ctx, *wsURL, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Announce(); err != nil {
		return err
	}

	for i := 0; i < *msgCount; i++ {
		err := conn.SendMessage(chat.SendRequest{
			SenderID:    from.ID,
			RecipientID: to.ID,
			Text:        fmt.Sprintf("LoadTest Msg %d from %s", i, from.ID),
		})
		if err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
		// Small sleep so localhost does not become the bottleneck.
		time.Sleep(10 * time.Millisecond)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for got := 0; got < *msgCount; {
		env, err := conn.AwaitAny(waitCtx, chat.EventMessageSent, chat.EventError)
		if err != nil {
			return fmt.Errorf("awaiting acks: %w", err)
		}
		if env.Type == chat.EventError {
			failed.Add(1)
		} else {
			acked.Add(1)
		}
		got++
	}
	return nil
}

// signToken mints a short-lived token the way the auth service would.
func signToken(u *user.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, user.Claims{
		ID:   u.ID,
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    user.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	return token.SignedString([]byte(*secret))
}
