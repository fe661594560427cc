package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rs/zerolog/log"
)

// authTimeout bounds how long Authenticate waits for the operator to finish
// the browser flow.
const authTimeout = 5 * time.Minute

const successPage = `<html>
<head><title>Authentication Successful</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Authentication successful</h1>
<p>You can close this browser window; the service will continue on its own.</p>
</body>
</html>`

// Authenticate runs the interactive authorization-code flow: serve a local
// callback endpoint, print the authorization URL for the operator, exchange
// the returned code, and persist the resulting token.
func (s *Session) Authenticate(ctx context.Context) error {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	codes := make(chan string, 1)
	used := make(map[string]bool)

	app.Get("/callback", func(c *fiber.Ctx) error {
		code := c.Query("code")
		if code == "" {
			return c.Status(fiber.StatusBadRequest).
				SendString("Authorization failed: no code returned.")
		}
		if used[code] {
			return c.Status(fiber.StatusBadRequest).
				SendString("Authorization code already used, restart the flow.")
		}
		used[code] = true

		select {
		case codes <- code:
		default:
		}
		c.Set("Content-Type", "text/html")
		return c.SendString(successPage)
	})
	app.Get("/favicon.ico", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Listen(s.listen)
	}()
	defer func() {
		if err := app.Shutdown(); err != nil {
			log.Debug().Err(err).Msg("Callback server shutdown error")
		}
	}()

	authURL := s.oauth.AuthCodeURL("")
	log.Info().
		Str("url", authURL).
		Str("listen", s.listen).
		Msg("Open this URL in a browser to authorize the integration")

	select {
	case code := <-codes:
		token, err := s.oauth.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to exchange authorization code: %w", err)
		}
		s.setToken(token)
		log.Info().Time("expiry", token.Expiry).Msg("Authentication completed")
		return nil
	case err := <-serveErr:
		return fmt.Errorf("callback server failed: %w", err)
	case <-time.After(authTimeout):
		return errors.New("authentication timed out waiting for callback")
	case <-ctx.Done():
		return ctx.Err()
	}
}
