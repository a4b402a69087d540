package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"bidhall.org/internal/auction"
	"bidhall.org/internal/obs"
	"bidhall.org/internal/stream"
)

// ReadyProbe checks start-up dependencies (for example, the archive DB).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the HTTP layer.
type Options struct {
	Ledger *auction.Ledger
	Stream *stream.Stream
	Ready  ReadyProbe
	// Registry and Rails resolve the collaborator references named in
	// start requests.
	Registry auction.AssetRegistry
	Rails    map[string]auction.Rail
	Version  string

	TokenTTL  time.Duration
	DevTokens bool

	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// API is the HTTP surface over the auction ledger.
type API struct {
	mux        *http.ServeMux
	ledger     *auction.Ledger
	stream     *stream.Stream
	readyProbe ReadyProbe
	registry   auction.AssetRegistry
	rails      map[string]auction.Rail
	version    string
	tokenTTL   time.Duration
	devTokens  bool

	maxBodyBytes   int64
	rateLimitRPS   float64
	rateLimitBurst int
	corsOrigins    []string
}

func New(opts Options) *API {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 15 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}

	a := &API{
		mux:            http.NewServeMux(),
		ledger:         opts.Ledger,
		stream:         opts.Stream,
		readyProbe:     opts.Ready,
		registry:       opts.Registry,
		rails:          opts.Rails,
		version:        opts.Version,
		tokenTTL:       opts.TokenTTL,
		devTokens:      opts.DevTokens,
		maxBodyBytes:   opts.MaxBodyBytes,
		rateLimitRPS:   opts.RateLimitRPS,
		rateLimitBurst: opts.RateLimitBurst,
		corsOrigins:    opts.CORSOrigins,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// auctions
	a.mux.HandleFunc("/v1/auctions", a.handleAuctionsCollection)
	a.mux.HandleFunc("/v1/auctions/", a.handleAuctionResource)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	// live feeds
	a.mux.HandleFunc("/v1/stream", a.Stream)
	a.mux.HandleFunc("/v1/ws", a.WS)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateLimitBurst, a.rateLimitRPS)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
