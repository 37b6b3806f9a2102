package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type registered struct {
	checker  Checker
	optional bool
}

type CheckerRegistry struct {
	checkers []registered
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, registered{checker: checker})
}

// RegisterOptional adds a checker whose failure only degrades the service,
// e.g. a cache that has a durable fallback.
func (r *CheckerRegistry) RegisterOptional(checker Checker) {
	r.checkers = append(r.checkers, registered{checker: checker, optional: true})
}

// Check runs every checker concurrently, each bounded by checkTimeout.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make([]CheckResult, len(r.checkers))

	var wg sync.WaitGroup
	for i, reg := range r.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results[i] = evaluate(reg, reg.checker.Check(checkCtx))
		}()
	}
	wg.Wait()

	h := Health{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(results)),
	}
	for i, res := range results {
		h.Checks[r.checkers[i].checker.Name()] = res
		h.Status = worst(h.Status, res.Status)
	}
	return h
}

func evaluate(reg registered, err error) CheckResult {
	res := CheckResult{Status: StatusHealthy, Timestamp: time.Now()}
	if err == nil {
		return res
	}
	res.Message = err.Error()
	res.Status = StatusUnhealthy
	if reg.optional {
		res.Status = StatusDegraded
	}
	return res
}

func worst(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// HTTPHandler serves the registry as JSON; unhealthy maps to 503.
func (r *CheckerRegistry) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		h := r.Check(req.Context())

		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}

type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c pingChecker) Name() string {
	return c.name
}

func (c pingChecker) Check(ctx context.Context) error {
	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

func NewPostgreSQLChecker(db *sql.DB) Checker {
	return pingChecker{name: "postgresql", ping: db.PingContext}
}

func NewRedisChecker(client *redis.Client) Checker {
	return pingChecker{name: "redis", ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	return pingChecker{name: "mongodb", ping: func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}}
}

// NewKafkaChecker succeeds when any of the brokers accepts a connection
// and answers a metadata request.
func NewKafkaChecker(brokers []string) Checker {
	return pingChecker{name: "kafka", ping: func(ctx context.Context) error {
		var lastErr error = fmt.Errorf("no brokers configured")
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			_, err = conn.Brokers()
			conn.Close()
			if err == nil {
				return nil
			}
			lastErr = err
		}
		return lastErr
	}}
}
