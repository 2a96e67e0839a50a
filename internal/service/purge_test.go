package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/repository"
)

func TestPurge_AfterRetention(t *testing.T) {
	env := setupEnv(t, 1<<20)
	ctx := context.Background()

	res := env.upload(t, "old.txt", "data", "", "")
	if err := env.admin.DeleteFile(ctx, res.Identifier); err != nil {
		t.Fatalf("DeleteFile() ошибка: %v", err)
	}

	// До истечения срока хранения запись остаётся
	env.clock.Advance(24 * time.Hour)
	report, skipped := env.purge.RunOnce(ctx, false)
	if skipped {
		t.Fatal("очистка пропущена")
	}
	if report.Found != 0 {
		t.Errorf("Found = %d до истечения срока, ожидалось 0", report.Found)
	}

	env.clock.Advance(30 * 24 * time.Hour)
	report, _ = env.purge.RunOnce(ctx, false)
	if report.Found != 1 || report.Purged != 1 {
		t.Fatalf("отчёт = %+v, ожидалось found=1 purged=1", report)
	}
	if report.BlobsRemoved != 0 {
		t.Errorf("BlobsRemoved = %d, blob уже удалён администратором", report.BlobsRemoved)
	}
	if _, err := env.repo.GetByIdentifier(ctx, res.Identifier); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись должна быть удалена окончательно, err=%v", err)
	}
}

func TestPurge_DryRun(t *testing.T) {
	env := setupEnv(t, 1<<20)
	ctx := context.Background()

	res := env.upload(t, "old.txt", "data", "", "")
	env.admin.DeleteFile(ctx, res.Identifier)
	env.clock.Advance(31 * 24 * time.Hour)

	report, _ := env.purge.RunOnce(ctx, true)
	if report.Found != 1 || report.Purged != 0 {
		t.Errorf("отчёт = %+v, ожидалось found=1 purged=0", report)
	}
	if _, err := env.repo.GetByIdentifier(ctx, res.Identifier); err != nil {
		t.Errorf("dry-run удалил запись: %v", err)
	}
}

// TestPurge_RemovesLeftoverBlob: blob, оставшийся у удалённой записи,
// удаляется вместе с ней.
func TestPurge_RemovesLeftoverBlob(t *testing.T) {
	env := setupEnv(t, 1<<20)
	ctx := context.Background()

	res := env.upload(t, "left.txt", "data", "", "")
	name := mustStorageName(t, env, res.Identifier)
	if err := env.repo.MarkDeleted(ctx, res.Identifier, env.clock.Now()); err != nil {
		t.Fatalf("MarkDeleted() ошибка: %v", err)
	}

	env.purge.SetRetention(time.Hour)
	env.clock.Advance(2 * time.Hour)

	report, _ := env.purge.RunOnce(ctx, false)
	if report.Purged != 1 || report.BlobsRemoved != 1 {
		t.Errorf("отчёт = %+v, ожидалось purged=1 blobsRemoved=1", report)
	}
	if blobExists(t, env.blobs, name) {
		t.Error("blob удалённой записи не удалён")
	}
}

func TestPurge_ActiveRecordsUntouched(t *testing.T) {
	env := setupEnv(t, 1<<20)
	ctx := context.Background()

	env.upload(t, "active.txt", "data", "", "")
	env.clock.Advance(365 * 24 * time.Hour)

	report, _ := env.purge.RunOnce(ctx, false)
	if report.Found != 0 {
		t.Errorf("Found = %d, активные записи не очищаются", report.Found)
	}
	if n, _ := env.repo.CountActive(ctx); n != 1 {
		t.Errorf("CountActive = %d, ожидалось 1", n)
	}
}
