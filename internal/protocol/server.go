package protocol

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/alerting"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
	"sentinel-monitor/internal/oracle"
	"sentinel-monitor/internal/payment"
)

// ServerOptions parameterise the check endpoint.
type ServerOptions struct {
	ListenAddr string
	Fee        decimal.Decimal
	Recipient  string
}

// Server issues payment challenges, verifies proofs and settles price checks.
// A proof settles at most one check per process: settled proofs go into an
// in-memory replay guard, and the verifier's freshness window bounds how far
// back a proof can reach.
type Server struct {
	opts     ServerOptions
	resolver *netprofile.Resolver
	prices   oracle.PriceSource
	verifier payment.ProofVerifier
	notifier alerting.Notifier
	logger   zerolog.Logger

	mu         sync.Mutex
	seenProofs map[string]struct{}
}

// NewServer constructs the protocol server. notifier may be nil when trigger
// notifications are dispatched elsewhere.
func NewServer(opts ServerOptions, resolver *netprofile.Resolver, prices oracle.PriceSource, verifier payment.ProofVerifier, notifier alerting.Notifier, logger zerolog.Logger) *Server {
	return &Server{
		opts:       opts,
		resolver:   resolver,
		prices:     prices,
		verifier:   verifier,
		notifier:   notifier,
		logger:     logger.With().Str("component", "protocol_server").Logger(),
		seenProofs: make(map[string]struct{}),
	}
}

// Routes builds the HTTP router.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST(CheckPath, s.handleCheck)
	return engine
}

// HTTPServer wraps the router for graceful shutdown by the caller.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	snt, err := req.Sentinel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := snt.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := s.resolver.Resolve(snt.Network)
	challenge := s.challengeFor(profile)

	// 未附带支付证明: 返回支付质询, 不泄露任何价格数据。
	if req.PaymentProof == "" {
		c.JSON(http.StatusPaymentRequired, challenge)
		return
	}

	token := domain.TokenKind(req.TokenUsed)
	if !s.tokenAccepted(challenge, token) {
		s.logger.Debug().
			Str("sentinel", req.SentinelID).
			Str("token", req.TokenUsed).
			Msg("proof declared an unaccepted token, re-challenging")
		c.JSON(http.StatusPaymentRequired, challenge)
		return
	}
	if s.alreadySettled(req.PaymentProof) {
		s.logger.Debug().
			Str("sentinel", req.SentinelID).
			Str("proof", req.PaymentProof).
			Msg("proof already settled a check, re-challenging")
		c.JSON(http.StatusPaymentRequired, challenge)
		return
	}

	claim := payment.ProofClaim{
		Network:   snt.Network,
		Token:     token,
		TxRef:     req.PaymentProof,
		Recipient: common.HexToAddress(s.opts.Recipient),
		Amount:    s.opts.Fee,
	}
	ok, err := s.verifier.Verify(c.Request.Context(), claim)
	if err != nil {
		s.logger.Warn().Err(err).Str("proof", req.PaymentProof).Msg("proof verification unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment verification unavailable"})
		return
	}
	if !ok {
		// 无效证明重新质询, 让客户端能区分"再付一次"与"请求格式错误"。
		s.logger.Info().
			Str("sentinel", req.SentinelID).
			Str("proof", req.PaymentProof).
			Msg("proof rejected, re-challenging")
		c.JSON(http.StatusPaymentRequired, challenge)
		return
	}

	// Price lookup failures must not consume the proof; the caller may retry
	// with the same payment.
	price, err := s.prices.Current(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("price oracle unavailable")
		c.JSON(http.StatusBadGateway, gin.H{"error": "price oracle unavailable"})
		return
	}

	s.markSettled(req.PaymentProof)

	triggered := alerting.Evaluate(price, snt.Threshold, snt.Condition)
	now := time.Now().UTC()
	if triggered && s.notifier != nil {
		if err := s.notifier.Notify(c.Request.Context(), alerting.TriggerNotice(snt, price, now)); err != nil {
			s.logger.Warn().Err(err).Str("sentinel", req.SentinelID).Msg("trigger notification failed")
		}
	}

	s.logger.Info().
		Str("sentinel", req.SentinelID).
		Str("price", price.String()).
		Bool("triggered", triggered).
		Str("token", string(token)).
		Msg("check settled")

	c.JSON(http.StatusOK, SettledResponse{
		Price:                price,
		Triggered:            triggered,
		Cost:                 s.opts.Fee,
		TokenUsed:            string(token),
		TransactionReference: req.PaymentProof,
		Timestamp:            now,
	})
}

func (s *Server) challengeFor(profile netprofile.Profile) Challenge {
	accepted := profile.AcceptedTokens()
	names := make([]string, 0, len(accepted))
	for _, kind := range accepted {
		names = append(names, string(kind))
	}
	return Challenge{
		Amount:         s.opts.Fee,
		Recipient:      s.opts.Recipient,
		AcceptedTokens: names,
	}
}

func (s *Server) tokenAccepted(ch Challenge, token domain.TokenKind) bool {
	for _, name := range ch.AcceptedTokens {
		if name == string(token) {
			return true
		}
	}
	return false
}

func (s *Server) alreadySettled(proof string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.seenProofs[proof]
	return seen
}

func (s *Server) markSettled(proof string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenProofs[proof] = struct{}{}
}
