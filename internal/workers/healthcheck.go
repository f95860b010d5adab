package workers

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
)

// connectionCheckTimeout bounds how long a single health check waits on
// the database round trip (spec.md §4.8 "≤5s bounded timeout").
const connectionCheckTimeout = 5 * time.Second

// HealthCheckWorker implements spec.md §4.8's health check worker: a
// periodic probe of each active subscription's database reachability and
// folder/file state, publishing subscription-health-changed whenever the
// derived overall status changes.
type HealthCheckWorker struct {
	Interval      time.Duration
	Enabled       bool
	Subscriptions repo.Subscriptions
	Connector     Connector
	Publisher     *realtime.Publisher

	now func() time.Time
}

// Run blocks, running a health check pass every Interval until ctx is
// cancelled.
func (w *HealthCheckWorker) Run(ctx context.Context) {
	if !w.Enabled {
		return
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *HealthCheckWorker) pass(ctx context.Context) {
	subs, err := w.Subscriptions.ListActive(ctx)
	if err != nil {
		log.Error("health check worker: failed listing active subscriptions", "error", err)
		return
	}
	for _, sub := range subs {
		w.checkOne(ctx, sub)
	}
}

func (w *HealthCheckWorker) clockNow() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now().UTC()
}

func (w *HealthCheckWorker) checkOne(ctx context.Context, sub model.Subscription) {
	now := w.clockNow()
	previous := sub.Health

	health := model.SubscriptionHealth{LastChecked: now}
	var issues []model.HealthIssue

	if dbErr := w.checkDatabase(ctx, sub); dbErr != nil {
		health.DatabaseConnectable = false
		health.LastError = dbErr.Error()
		issues = append(issues, model.HealthIssue{Type: model.IssueDatabase, Message: dbErr.Error(), Since: now})
	} else {
		health.DatabaseConnectable = true
	}

	fileCount, folderErr := countSQLFiles(sub.Folder.Root)
	if folderErr != nil {
		health.FolderAccessible = false
		issues = append(issues, model.HealthIssue{Type: model.IssueFolder, Message: folderErr.Error(), Since: now})
	} else {
		health.FolderAccessible = true
		health.FilesPresent = fileCount > 0
		if fileCount == 0 {
			issues = append(issues, model.HealthIssue{Type: model.IssueFiles, Message: "no .sql files found in project folder", Since: now})
		}
	}

	health.Issues = issues
	health.Overall = health.DeriveOverall()

	sub.Health = health
	if err := w.Subscriptions.Update(ctx, sub); err != nil {
		log.Warn("health check worker: failed persisting health", "subscription", sub.ID, "error", err)
		return
	}

	if previous.Overall != health.Overall {
		w.Publisher.Publish(sub.ID, realtime.EventSubscriptionHealthChanged, map[string]any{
			"subscription-id": sub.ID.String(),
			"previous":         string(previous.Overall),
			"current":          string(health.Overall),
			"issues":           issues,
		})
	}
}

func (w *HealthCheckWorker) checkDatabase(ctx context.Context, sub model.Subscription) error {
	checkCtx, cancel := context.WithTimeout(ctx, connectionCheckTimeout)
	defer cancel()

	db, err := w.Connector.Open(checkCtx, sub.Database)
	if err != nil {
		return err
	}
	defer closeQuietly(db)

	return db.PingContext(checkCtx)
}

func closeQuietly(db *sql.DB) {
	_ = db.Close()
}

func countSQLFiles(root string) (int, error) {
	if root == "" {
		return 0, os.ErrNotExist
	}
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, nil
	}

	count := 0
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
			count++
		}
		return nil
	})
	return count, err
}
