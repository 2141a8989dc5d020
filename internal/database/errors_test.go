package database

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestConstraintClassification(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		duplicate  bool
		foreignKey bool
	}{
		{name: "nil", err: nil},
		{name: "translated duplicate", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), duplicate: true},
		{name: "sqlite unique message", err: errors.New("constraint failed: UNIQUE constraint failed: users.username (2067)"), duplicate: true},
		{name: "postgres unique message", err: errors.New(`ERROR: duplicate key value violates unique constraint "users_username_key"`), duplicate: true},
		{name: "translated foreign key", err: gorm.ErrForeignKeyViolated, foreignKey: true},
		{name: "sqlite foreign key message", err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), foreignKey: true},
		{name: "unrelated", err: errors.New("connection reset by peer")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := IsDuplicateKey(testCase.err); got != testCase.duplicate {
				t.Fatalf("IsDuplicateKey = %v, want %v", got, testCase.duplicate)
			}
			if got := IsForeignKeyViolation(testCase.err); got != testCase.foreignKey {
				t.Fatalf("IsForeignKeyViolation = %v, want %v", got, testCase.foreignKey)
			}
		})
	}
}
