package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateStudentCache drops every cached view that may embed the given
// student record. Called only after a durable commit.
func InvalidateStudentCache(ctx context.Context, cm *CacheManager, studentID uint, teacherID string) {
	SafeDelete(ctx, cm.Student, fmt.Sprintf("id:%d", studentID))
	SafeDelete(ctx, cm.Roster, fmt.Sprintf("teacher:%s", teacherID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("roster:%s:*", teacherID))
	SafeInvalidatePattern(ctx, cm.Exists, fmt.Sprintf("scancode:%s:*", teacherID))
}
