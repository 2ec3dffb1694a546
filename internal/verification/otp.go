package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

var (
	ErrTooManyRequests = errors.New("too many verification codes requested")
	ErrInvalidCode     = errors.New("verification code is invalid or expired")
)

const (
	maxCheckAttempts = 5
	limiterSweep     = time.Minute
)

// Challenger issues and checks one-time codes for an email address.
type Challenger interface {
	Issue(ctx context.Context, email string) error
	Check(ctx context.Context, email, code string) error
}

// Sender delivers a code to the attendee.
type Sender interface {
	Send(ctx context.Context, email, code string, ttl time.Duration) error
}

type CodeRecord struct {
	Hash     string `json:"hash"`
	Attempts int    `json:"attempts"`
}

type CodeStore interface {
	Save(ctx context.Context, email string, rec CodeRecord, ttl time.Duration) error
	Load(ctx context.Context, email string) (CodeRecord, bool, error)
	Delete(ctx context.Context, email string) error
}

type OTPConfig struct {
	CodeLength int
	CodeTTL    time.Duration
	IssueRate  rate.Limit
	IssueBurst int
}

type OTPChallenger struct {
	codes  CodeStore
	sender Sender
	cfg    OTPConfig
	log    *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

func NewOTPChallenger(codes CodeStore, sender Sender, cfg OTPConfig, log *slog.Logger) *OTPChallenger {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.IssueRate <= 0 {
		cfg.IssueRate = rate.Every(time.Minute)
	}
	if cfg.IssueBurst <= 0 {
		cfg.IssueBurst = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &OTPChallenger{
		codes:    codes,
		sender:   sender,
		cfg:      cfg,
		log:      log.With(slog.String("component", "otp")),
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

// allow takes one issue token for email. Limiters that have refilled to their
// burst behave like new ones, so they are dropped on the periodic sweep.
func (c *OTPChallenger) allow(email string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) >= limiterSweep {
		for k, l := range c.limiters {
			if l.TokensAt(now) >= float64(c.cfg.IssueBurst) {
				delete(c.limiters, k)
			}
		}
		c.lastSweep = now
	}

	l, ok := c.limiters[email]
	if !ok {
		l = rate.NewLimiter(c.cfg.IssueRate, c.cfg.IssueBurst)
		c.limiters[email] = l
	}
	return l.AllowN(now, 1)
}

func (c *OTPChallenger) Issue(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !c.allow(email) {
		c.log.WarnContext(ctx, "verification code rate limited", slog.String("email", email))
		return ErrTooManyRequests
	}

	code, err := generateCode(c.cfg.CodeLength)
	if err != nil {
		return err
	}
	if err := c.codes.Save(ctx, email, CodeRecord{Hash: hashCode(email, code)}, c.cfg.CodeTTL); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	if err := c.sender.Send(ctx, email, code, c.cfg.CodeTTL); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

func (c *OTPChallenger) Check(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	rec, ok, err := c.codes.Load(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	want := []byte(rec.Hash)
	got := []byte(hashCode(email, strings.TrimSpace(code)))
	if subtle.ConstantTimeCompare(want, got) == 1 {
		return c.codes.Delete(ctx, email)
	}

	rec.Attempts++
	if rec.Attempts >= maxCheckAttempts {
		if err := c.codes.Delete(ctx, email); err != nil {
			return err
		}
		return ErrInvalidCode
	}
	if err := c.codes.Save(ctx, email, rec, 0); err != nil {
		return err
	}
	return ErrInvalidCode
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashCode(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func generateCode(length int) (string, error) {
	var sb strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

const codeKeyPrefix = "slotbook:otp:"

type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

// Save writes rec. A zero ttl keeps the key's current expiry.
func (s *RedisCodeStore) Save(ctx context.Context, email string, rec CodeRecord, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if ttl == 0 {
		return s.client.SetArgs(ctx, codeKeyPrefix+email, b, redis.SetArgs{KeepTTL: true}).Err()
	}
	return s.client.Set(ctx, codeKeyPrefix+email, b, ttl).Err()
}

func (s *RedisCodeStore) Load(ctx context.Context, email string) (CodeRecord, bool, error) {
	data, err := s.client.Get(ctx, codeKeyPrefix+email).Bytes()
	if err == redis.Nil {
		return CodeRecord{}, false, nil
	}
	if err != nil {
		return CodeRecord{}, false, err
	}
	var rec CodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CodeRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, codeKeyPrefix+email).Err()
}

type MemoryCodeStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryCode
}

type memoryCode struct {
	rec     CodeRecord
	expires time.Time
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{now: time.Now, entries: map[string]memoryCode{}}
}

func (s *MemoryCodeStore) Save(ctx context.Context, email string, rec CodeRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires := s.now().Add(ttl)
	if ttl == 0 {
		expires = s.entries[email].expires
	}
	s.entries[email] = memoryCode{rec: rec, expires: expires}
	return nil
}

func (s *MemoryCodeStore) Load(ctx context.Context, email string) (CodeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok || !s.now().Before(e.expires) {
		delete(s.entries, email)
		return CodeRecord{}, false, nil
	}
	return e.rec, true, nil
}

func (s *MemoryCodeStore) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	delete(s.entries, email)
	s.mu.Unlock()
	return nil
}

// LogSender writes codes to the debug log. Delivery channels are outside this
// service.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log.With(slog.String("component", "otp_sender"))}
}

func (s *LogSender) Send(ctx context.Context, email, code string, ttl time.Duration) error {
	s.log.DebugContext(ctx, "verification code issued",
		slog.String("email", email),
		slog.String("code", code),
		slog.Duration("ttl", ttl),
	)
	return nil
}
