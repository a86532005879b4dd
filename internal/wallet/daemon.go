package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DaemonSession talks to the external wallet daemon over HTTP and keeps a
// websocket subscription to its confirmation feed. One DaemonSession is
// opened per process; the daemon itself loads the seed and owns all coin
// state.
type DaemonSession struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	conn          *websocket.Conn
	confirmations chan Confirmation
	readerDone    chan struct{}
	closeOnce     sync.Once
	closed        chan struct{}
}

type DaemonConfig struct {
	BaseURL            string
	RequestTimeout     time.Duration
	ConfirmationBuffer int
}

// NewDaemonSession connects to the wallet daemon and starts the confirmation
// reader. The confirmation channel is bounded; when the consumer lags, the
// oldest pending confirmation is dropped and logged, and the reconciliation
// sweep eventually flags anything that was missed.
func NewDaemonSession(cfg DaemonConfig, logger *zap.Logger) (*DaemonSession, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("wallet daemon base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.ConfirmationBuffer <= 0 {
		cfg.ConfirmationBuffer = 256
	}

	s := &DaemonSession{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:        logger,
		confirmations: make(chan Confirmation, cfg.ConfirmationBuffer),
		readerDone:    make(chan struct{}),
		closed:        make(chan struct{}),
	}

	wsURL, err := s.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to confirmation feed: %w", err)
	}
	s.conn = conn

	go s.readConfirmations(conn)

	logger.Info("wallet session opened",
		zap.String("daemon_url", s.baseURL),
		zap.Int("confirmation_buffer", cfg.ConfirmationBuffer))

	return s, nil
}

func (s *DaemonSession) websocketURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid wallet daemon URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/confirmations"
	return u.String(), nil
}

type submitRequest struct {
	TokenType   string `json:"token_type,omitempty"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

type submitResponse struct {
	TxID  string `json:"tx_id"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// BuildAndSubmit asks the daemon to build, prove and submit one transfer.
// Not safe for concurrent use; see Session.
func (s *DaemonSession) BuildAndSubmit(ctx context.Context, spec TransferSpec) (string, error) {
	body, err := json.Marshal(submitRequest{
		TokenType:   spec.TokenTypeHex,
		Destination: spec.Destination,
		Amount:      spec.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transfer spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The request may have reached the daemon before the failure; the
		// caller keeps the record in flight and reconciliation decides.
		return "", &SubmissionError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{Retryable: true, Err: err}
	}

	var parsed submitResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", &SubmissionError{
				Retryable: false,
				Err:       fmt.Errorf("unparseable daemon response (status %d): %w", resp.StatusCode, err),
			}
		}
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		if parsed.TxID == "" {
			return "", &SubmissionError{Retryable: false, Err: fmt.Errorf("daemon accepted transfer without a tx id")}
		}
		return parsed.TxID, nil
	}

	return "", s.classifyFailure(resp.StatusCode, parsed, spec)
}

// classifyFailure maps daemon responses onto the error taxonomy. The daemon
// labels failures with a kind; the HTTP status is the fallback.
func (s *DaemonSession) classifyFailure(status int, parsed submitResponse, spec TransferSpec) error {
	reason := parsed.Error
	if reason == "" {
		reason = fmt.Sprintf("daemon returned status %d", status)
	}

	switch parsed.Kind {
	case "insufficient_funds":
		return &CoinSelectionError{Token: spec.TokenTypeHex, Requested: spec.Amount}
	case "proof_failed":
		return &ProofGenerationError{Err: fmt.Errorf("%s", reason)}
	case "rejected":
		return &SubmissionError{Retryable: false, Err: fmt.Errorf("%s", reason)}
	}

	switch {
	case status == http.StatusUnprocessableEntity:
		return &CoinSelectionError{Token: spec.TokenTypeHex, Requested: spec.Amount}
	case status == http.StatusBadRequest:
		return &SubmissionError{Retryable: false, Err: fmt.Errorf("%s", reason)}
	case status >= 500:
		return &SubmissionError{Retryable: true, Err: fmt.Errorf("%s", reason)}
	default:
		return &SubmissionError{Retryable: false, Err: fmt.Errorf("%s", reason)}
	}
}

func (s *DaemonSession) Confirmations() <-chan Confirmation {
	return s.confirmations
}

// Status fetches the daemon's sync and balance snapshot.
func (s *DaemonSession) Status(ctx context.Context) (SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/status", nil)
	if err != nil {
		return SessionStatus{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("wallet status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SessionStatus{}, fmt.Errorf("wallet status request returned %d", resp.StatusCode)
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return SessionStatus{}, fmt.Errorf("failed to parse wallet status: %w", err)
	}
	return status, nil
}

func (s *DaemonSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		// Closing the socket unblocks the reader's ReadJSON; without it
		// the reader would sit on an idle feed until the wait below gives
		// up, leaking the goroutine and the connection.
		if s.conn != nil {
			s.conn.Close()
		}
	})
	select {
	case <-s.readerDone:
	case <-time.After(5 * time.Second):
		s.logger.Warn("confirmation reader did not stop in time")
	}
	return nil
}

// readConfirmations pumps websocket frames into the bounded confirmation
// channel. It must never block on a slow consumer: on overflow the oldest
// pending confirmation is discarded.
func (s *DaemonSession) readConfirmations(conn *websocket.Conn) {
	defer close(s.readerDone)
	defer conn.Close()
	defer close(s.confirmations)

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		var conf Confirmation
		if err := conn.ReadJSON(&conf); err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.logger.Error("confirmation feed closed", zap.Error(err))
			return
		}
		if conf.ObservedAt.IsZero() {
			conf.ObservedAt = time.Now().UTC()
		}

		pushConfirmation(s.confirmations, conf, s.logger)
	}
}

// pushConfirmation delivers without ever blocking the producer: when the
// buffer is full the oldest entry is dropped, counted and logged.
func pushConfirmation(ch chan Confirmation, conf Confirmation, logger *zap.Logger) {
	for {
		select {
		case ch <- conf:
			return
		default:
		}
		select {
		case dropped := <-ch:
			confirmationsDropped.Inc()
			logger.Warn("confirmation buffer full, dropping oldest",
				zap.String("dropped_tx_id", dropped.ExternalTxID))
		default:
		}
	}
}
