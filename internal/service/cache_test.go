package service

import (
	"testing"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// TestCacheService_GetSet проверяет базовые операции Get/Set.
func TestCacheService_GetSet(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)

	if _, ok := cache.Get("id-1"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	cache.Set(&model.FileRecord{Identifier: "id-1", OriginalName: "test.txt", SizeBytes: 1024})
	got, ok := cache.Get("id-1")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.OriginalName != "test.txt" || got.SizeBytes != 1024 {
		t.Errorf("запись = %+v", got)
	}

	cache.Set(nil)
	if cache.Len() != 1 {
		t.Errorf("Len = %d, ожидалось 1", cache.Len())
	}
}

// TestCacheService_ReturnsCopy проверяет, что изменение полученной записи не меняет кэш.
func TestCacheService_ReturnsCopy(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)
	rec := &model.FileRecord{Identifier: "id-1", DownloadCount: 1}
	cache.Set(rec)

	rec.DownloadCount = 99
	got, _ := cache.Get("id-1")
	got.Deleted = true

	again, _ := cache.Get("id-1")
	if again.DownloadCount != 1 || again.Deleted {
		t.Errorf("кэш изменён извне: %+v", again)
	}
}

// TestCacheService_Delete проверяет инвалидацию.
func TestCacheService_Delete(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)
	cache.Set(&model.FileRecord{Identifier: "delete-me"})

	cache.Delete("delete-me")
	if _, ok := cache.Get("delete-me"); ok {
		t.Error("ожидался cache miss после Delete")
	}
	// Удаление отсутствующего ключа не паникует
	cache.Delete("missing")
}

// TestCacheService_TTL проверяет истечение записей.
func TestCacheService_TTL(t *testing.T) {
	cache := NewCacheService(100, 50*time.Millisecond)
	cache.Set(&model.FileRecord{Identifier: "short"})

	time.Sleep(150 * time.Millisecond)
	if _, ok := cache.Get("short"); ok {
		t.Error("запись должна истечь по TTL")
	}
}

// TestCacheService_LRU проверяет вытеснение при переполнении.
func TestCacheService_LRU(t *testing.T) {
	cache := NewCacheService(2, 5*time.Minute)
	cache.Set(&model.FileRecord{Identifier: "a"})
	cache.Set(&model.FileRecord{Identifier: "b"})
	cache.Get("a")
	cache.Set(&model.FileRecord{Identifier: "c"})

	if _, ok := cache.Get("b"); ok {
		t.Error("b должна быть вытеснена как давно неиспользуемая")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Error("a должна остаться в кэше")
	}
}
