package repository_test

import (
	"context"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/repository"
	"pii-audit-go/internal/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func seedConversation(t *testing.T, repo repository.ConversationRepository, tenant string, ts time.Time) *model.ConversationAuditLog {
	t.Helper()
	log := &model.ConversationAuditLog{
		Timestamp: ts,
		TenantID:  tenant,
		AgentID:   "agent-1",
		SessionID: "session-1",
		Channel:   "web",
		Prompt:    "hello",
		Response:  "hi there",
		ModelMetadata: model.ModelMetadata{
			ModelProvider: "openai",
			ModelConfig:   datatypes.JSONMap{"top_p": 0.9},
		},
	}
	require.NoError(t, repo.Create(context.Background(), log))
	return log
}

func TestConversationCreateAssignsDefaults(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewConversationRepository(db)

	log := seedConversation(t, repo, "t1", time.Time{})
	require.Len(t, log.ID, 36)
	require.False(t, log.Timestamp.IsZero())
	require.Equal(t, "default", log.ModelInfo)

	found, err := repo.FindByID(context.Background(), log.ID)
	require.NoError(t, err)
	require.Equal(t, "openai", found.ModelProvider)
	require.Equal(t, 0.9, found.ModelConfig["top_p"])

	_, err = repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestConversationIsAppendOnly(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewConversationRepository(db)
	ctx := context.Background()
	log := seedConversation(t, repo, "t1", time.Now().UTC())
	before, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)

	attempts := map[string]func() error{
		"update column": func() error {
			return db.Model(log).Update("prompt", "tampered").Error
		},
		"save": func() error {
			changed := *log
			changed.Response = "tampered"
			return db.Save(&changed).Error
		},
		"bulk update by table": func() error {
			return db.Table("conversation_audit_logs").Where("tenant_id = ?", "t1").Updates(map[string]any{"prompt": "x"}).Error
		},
		"delete": func() error {
			return db.Delete(log).Error
		},
		"bulk delete": func() error {
			return db.Where("tenant_id = ?", "t1").Delete(&model.ConversationAuditLog{}).Error
		},
		"upsert update all": func() error {
			changed := *log
			changed.Prompt = "tampered"
			return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&changed).Error
		},
		"upsert do updates": func() error {
			changed := *log
			changed.Prompt = "tampered"
			return db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"prompt"}),
			}).Create(&changed).Error
		},
	}
	for name, attempt := range attempts {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, attempt(), model.ErrImmutableRecord)
		})
	}

	after, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	count, err := repo.CountByTenant(ctx, "t1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestConversationInsertIgnoreIsAllowed(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewConversationRepository(db)
	ctx := context.Background()
	log := seedConversation(t, repo, "t1", time.Now().UTC())

	duplicate := *log
	duplicate.Prompt = "tampered"
	require.NoError(t, db.Clauses(clause.OnConflict{DoNothing: true}).Create(&duplicate).Error)

	fresh := &model.ConversationAuditLog{TenantID: "t1", AgentID: "a", SessionID: "s", Channel: "web", Prompt: "p", Response: "r"}
	require.NoError(t, db.Clauses(clause.OnConflict{DoNothing: true}).Create(fresh).Error)

	after, err := repo.FindByID(ctx, log.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", after.Prompt)
	count, err := repo.CountByTenant(ctx, "t1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestConversationQueries(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewConversationRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := seedConversation(t, repo, "t1", now.AddDate(0, 0, -40))
	mid := seedConversation(t, repo, "t1", now.AddDate(0, 0, -10))
	latest := seedConversation(t, repo, "t1", now)
	seedConversation(t, repo, "t2", now)

	all, err := repo.FindAllByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, []string{latest.ID, mid.ID, old.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	page, total, err := repo.FindWithPagination(ctx, "t1", 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, page, 1)
	require.Equal(t, mid.ID, page[0].ID)

	tenants, err := repo.DistinctTenants(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, tenants)

	count, err := repo.CountBefore(ctx, "t1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDetectionRepository(t *testing.T) {
	db := testutil.OpenDB(t)
	convRepo := repository.NewConversationRepository(db)
	repo := repository.NewPIIDetectionRepository(db)
	ctx := context.Background()

	conv := seedConversation(t, convRepo, "t1", time.Now().UTC())
	start, end := 0, 7
	det := &model.PIIDetectionLog{
		AuditLogID: conv.ID,
		TenantID:   "t1",
		PIIDetected: datatypes.JSONSlice[model.Finding]{{
			Type: "email", Value: "a@b.com", RiskLevel: model.RiskHigh,
			Field: model.FieldPrompt, Source: model.SourcePattern, Start: &start, End: &end,
		}},
		PIICount:      1,
		HighRiskCount: 1,
		FieldsScanned: datatypes.JSONSlice[string]{"prompt", "response"},
		NERModelInfo:  "dslim/bert-base-NER",
	}
	require.NoError(t, repo.Create(ctx, det))

	found, err := repo.FindByAuditLogID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, det.ID, found.ID)
	require.Equal(t, "a@b.com", found.PIIDetected[0].Value)
	require.Equal(t, 7, *found.PIIDetected[0].End)

	require.ErrorIs(t, db.Model(found).Update("pii_count", 5).Error, model.ErrImmutableRecord)
	require.ErrorIs(t, db.Delete(found).Error, model.ErrImmutableRecord)

	list, err := repo.FindAllByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, list[0].PIICount)
}

func TestRetentionRepository(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewCachedRetentionRepository(repository.NewRetentionRepository(db), nil)
	ctx := context.Background()

	setting, err := repo.GetSetting(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, setting)

	require.NoError(t, repo.UpsertSetting(ctx, &model.TenantRetention{TenantID: "t1", RetentionDays: 30}))
	require.NoError(t, repo.UpsertSetting(ctx, &model.TenantRetention{TenantID: "t1", RetentionDays: 180}))
	setting, err = repo.GetSetting(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 180, setting.RetentionDays)

	run := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first := &model.RetentionAuditLog{TenantID: "t1", RetentionDays: 180, CutoffAt: run.AddDate(0, 0, -180), RunTimestamp: run}
	second := &model.RetentionAuditLog{TenantID: "t1", RetentionDays: 180, CutoffAt: run.AddDate(0, 0, -179), EligibleCount: 2, RunTimestamp: run.Add(24 * time.Hour)}
	require.NoError(t, repo.CreateAudit(ctx, first))
	require.NoError(t, repo.CreateAudit(ctx, second))

	audits, err := repo.ListAudits(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, audits, 2)
	require.Equal(t, second.ID, audits[0].ID)

	require.ErrorIs(t, db.Model(&audits[0]).Update("eligible_count", 0).Error, model.ErrImmutableRecord)
	require.ErrorIs(t, db.Delete(&audits[1]).Error, model.ErrImmutableRecord)
}
