// Package gateway exposes the cache over HTTP for processes that would
// rather talk to a local daemon than link the library: GET /fetch?url=...
// answers with the cached (or freshly fetched) body.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	staticcache "github.com/static-cache/static-cache"
	"github.com/static-cache/static-cache/internal/logging"
	"github.com/static-cache/static-cache/transport"
)

// Options 描述构建网关所需的依赖。
type Options struct {
	Logger *logrus.Logger
	Cache  *staticcache.Cache
}

// New builds the Fiber application serving the fetch endpoint, with panic
// recovery and per-request IDs.
func New(opts Options) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(func(c fiber.Ctx) error {
		c.Set("X-Request-ID", uuid.NewString())
		return c.Next()
	})

	app.Get("/fetch", handleFetch(opts))

	return app, nil
}

// handleFetch 把查询参数里的 URL 交给缓存引擎，并把正文流式返回。
// 引擎内部已经决定了是本地数据还是新下载的内容，这里只区分参数错误与回源失败。
func handleFetch(opts Options) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()

		rawURL := c.Query("url")
		if rawURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_parameter_required"})
		}

		file, err := opts.Cache.Get(c.Context(), rawURL)
		if err != nil {
			status := fiber.StatusBadGateway
			var statusErr *transport.StatusError
			if errors.As(err, &statusErr) {
				// Relay the upstream's verdict instead of a generic 502.
				status = statusErr.StatusCode
			}

			fields := logging.FetchFields("gateway_fetch", rawURL, status)
			fields["elapsed_ms"] = time.Since(started).Milliseconds()
			fields["error"] = err.Error()
			opts.Logger.WithFields(fields).Error("fetch_failed")

			return c.Status(status).JSON(fiber.Map{"error": "fetch_failed"})
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("stat cached file: %v", err))
		}

		fields := logging.FetchFields("gateway_fetch", rawURL, fiber.StatusOK)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		fields["bytes"] = info.Size()
		opts.Logger.WithFields(fields).Info("fetch_complete")

		c.Set("Content-Type", "application/octet-stream")
		// SendStream closes the file once the body has been written.
		return c.SendStream(file, int(info.Size()))
	}
}
