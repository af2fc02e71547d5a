package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

const vatSummaryTTL = 48 * time.Hour

// VatRefreshJob precomputes monthly VAT register summaries per tenant and
// stores them in Redis so register reads stay cheap at month end.
type VatRefreshJob struct {
	Pool   *pgxpool.Pool
	Repo   vat.Repository
	Redis  *redis.Client
	Logger *slog.Logger
	clock  func() time.Time
}

// NewVatRefreshJob initialises the VAT summary refresh handler.
func NewVatRefreshJob(pool *pgxpool.Pool, repo vat.Repository, client *redis.Client, logger *slog.Logger) *VatRefreshJob {
	return &VatRefreshJob{
		Pool:   pool,
		Repo:   repo,
		Redis:  client,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle rebuilds the summaries for the requested period.
func (j *VatRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("vat refresh: handler not configured")
	}
	var payload VatRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	now := j.now()
	if payload.Year == 0 {
		payload.Year = now.Year()
	}
	if payload.Month == 0 {
		payload.Month = int(now.Month())
	}
	from := time.Date(payload.Year, time.Month(payload.Month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	logger := j.logger().With(slog.String("period", from.Format("2006-01")))
	logger.Info("starting vat summary refresh")

	tenants, err := j.activeTenants(ctx, from, to)
	if err != nil {
		logger.Error("list tenants failed", slog.Any("error", err))
		return err
	}

	refreshed := 0
	for _, tenantID := range tenants {
		for _, register := range []vat.Register{vat.RegisterSales, vat.RegisterPurchases} {
			summaries, err := j.Repo.Summarize(ctx, tenantID, register, from, to)
			if err != nil {
				logger.Error("summarize failed",
					slog.Int64("tenant_id", int64(tenantID)),
					slog.String("register", string(register)),
					slog.Any("error", err),
				)
				return err
			}
			if err := j.store(ctx, tenantID, register, from, summaries); err != nil {
				logger.Warn("cache store failed",
					slog.Int64("tenant_id", int64(tenantID)),
					slog.Any("error", err),
				)
				continue
			}
			refreshed++
		}
	}

	logger.Info("completed vat summary refresh",
		slog.Int("tenants", len(tenants)),
		slog.Int("registers_refreshed", refreshed),
	)
	return nil
}

func (j *VatRefreshJob) activeTenants(ctx context.Context, from, to time.Time) ([]shared.TenantID, error) {
	if j.Pool == nil {
		return nil, errors.New("vat refresh: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM vat_movements
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY tenant_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []shared.TenantID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, shared.TenantID(id))
	}
	return tenants, rows.Err()
}

func (j *VatRefreshJob) store(ctx context.Context, tenantID shared.TenantID, register vat.Register, from time.Time, summaries []vat.RegisterSummary) error {
	if j.Redis == nil {
		return nil
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("vat:summary:%d:%s:%s", tenantID, register, from.Format("2006-01"))
	return j.Redis.Set(ctx, key, data, vatSummaryTTL).Err()
}

func (j *VatRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskVatRefresh))
	}
	return slog.Default().With(slog.String("job", TaskVatRefresh))
}

func (j *VatRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
