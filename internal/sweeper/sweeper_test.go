package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/Monthlyaway/short-rules/internal/audit"
	"github.com/Monthlyaway/short-rules/internal/cache"
	"github.com/Monthlyaway/short-rules/internal/filter"
	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/Monthlyaway/short-rules/internal/repository"
	"github.com/Monthlyaway/short-rules/internal/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestSweeper(t *testing.T, interval time.Duration) (*Sweeper, *repository.RuleRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo, err := repository.NewRuleRepositoryWithDB(db)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	listingCache := cache.NewListingCacheWithClient(client, time.Minute)

	recorder := audit.NewRecorder(repo, nil)
	svc := service.NewRuleService(repo, listingCache, filter.NewBloomFilter(1000, 0.01),
		recorder, nil, "short.ly", 10)

	return New(svc, recorder, nil, interval), repo
}

func seedRule(t *testing.T, repo *repository.RuleRepository, id int64, subpart string, expire time.Time, ownerID uint) {
	_, err := repo.CreateRule(context.Background(), &model.Rule{
		ID: id, Link: "https://example.com", Alias: "short.ly/" + subpart,
		Subpart: subpart, ExpireDate: expire, OwnerID: ownerID,
	})
	require.NoError(t, err)
}

func lastLog(t *testing.T, repo *repository.RuleRepository) model.Log {
	var entry model.Log
	require.NoError(t, repo.GetDB().Order("id DESC").First(&entry).Error)
	return entry
}

func TestSweepDeletesExpiredRules(t *testing.T) {
	sw, repo := newTestSweeper(t, time.Hour)
	ctx := context.Background()

	owner := &model.Owner{SessionToken: "token"}
	require.NoError(t, repo.CreateOwner(ctx, owner))

	today := model.DateOf(time.Now().UTC())
	seedRule(t, repo, 1, "expired", today.AddDate(0, 0, -1), owner.ID)
	seedRule(t, repo, 2, "due-today", today, owner.ID)
	seedRule(t, repo, 3, "alive", today.AddDate(0, 0, 7), owner.ID)

	sw.Sweep(ctx)

	rules, err := repo.ListRulesByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "alive", rules[0].Subpart)

	entry := lastLog(t, repo)
	assert.Equal(t, "clean_rules", entry.Process)
	assert.Contains(t, entry.Execute, "deleted 2 expired rules")
	assert.Nil(t, entry.OwnerID)
}

func TestSweepNothingToDelete(t *testing.T) {
	sw, repo := newTestSweeper(t, time.Hour)
	ctx := context.Background()

	sw.Sweep(ctx)

	entry := lastLog(t, repo)
	assert.Equal(t, "clean_rules", entry.Process)
	assert.Equal(t, "nothing to delete", entry.Execute)
}

func TestSweepFailureIsContained(t *testing.T) {
	sw, repo := newTestSweeper(t, time.Hour)
	ctx := context.Background()

	// Break the rules table; the sweep must log and carry on
	require.NoError(t, repo.GetDB().Migrator().DropTable(&model.Rule{}))

	assert.NotPanics(t, func() { sw.Sweep(ctx) })

	entry := lastLog(t, repo)
	assert.Equal(t, "clean_rules", entry.Process)
	assert.Contains(t, entry.Execute, "failed to clean expired rules")
}

func TestRunStopsOnCancel(t *testing.T) {
	sw, _ := newTestSweeper(t, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestRunSweepsPeriodically(t *testing.T) {
	sw, repo := newTestSweeper(t, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Run(ctx)

	// Each pass with an empty store appends a "nothing to delete" entry
	assert.Eventually(t, func() bool {
		var count int64
		if err := repo.GetDB().Model(&model.Log{}).Count(&count).Error; err != nil {
			return false
		}
		return count >= 2
	}, time.Second, 5*time.Millisecond)
}
