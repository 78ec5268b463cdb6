package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/snip/internal/config"
	"github.com/MrSnakeDoc/snip/internal/links"
	"github.com/MrSnakeDoc/snip/internal/logger"
)

// LinkService is the part of links.Service the handlers call.
type LinkService interface {
	CreateLink(ctx context.Context, req links.CreateRequest) (*links.Link, error)
	GetLink(ctx context.Context, id, seed string) (*links.Link, error)
	ListLinks(ctx context.Context, seed string) ([]*links.Link, error)
	DeleteLinks(ctx context.Context, ids []string, seed string) ([]links.DeleteResult, error)
	Seed(token string) (string, error)
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string                        // IPs allowed to access the readyz endpoint
	TrustProxy   bool                            // true if running behind a trusted reverse proxy (e.g., cloudflared)
	CORSOrigins  []string                        // empty disables CORS headers
	RateLimit    config.RateLimitConfig          // applied to the write endpoints
	Links        LinkService                     // link lifecycle
	Backend      string                          // store backend name, reported by readyz
	Ready        func(ctx context.Context) error // store readiness probe
	NewToken     func() (string, error)          // token issuance, defaults to idgen.Token
}
