package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edukita/schoolboard/internal/domain"
)

func TestParseClassNumber(t *testing.T) {
	tests := map[string]struct {
		label string
		want  int
	}{
		"single digit":         {"Class 3", 3},
		"two digits":           {"Class 10", 10},
		"trailing whitespace":  {"Class 5  ", 5},
		"no digits":            {"weird", 0},
		"empty":                {"", 0},
		"zero is unclassified": {"Class 0", 0},
		"above range":          {"Class 11", 0},
		"bare number":          {"7", 7},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.ParseClassNumber(tt.label))
		})
	}
}

func TestRole(t *testing.T) {
	assert.True(t, domain.RoleAdmin.Valid())
	assert.True(t, domain.RoleTeacher.Valid())
	assert.True(t, domain.RoleStudent.Valid())
	assert.False(t, domain.Role("principal").Valid())

	assert.True(t, domain.RoleAdmin.CanAuthor())
	assert.True(t, domain.RoleTeacher.CanAuthor())
	assert.False(t, domain.RoleStudent.CanAuthor())
}

func TestQuizVisibleTo(t *testing.T) {
	scoped := domain.Quiz{ClassScope: "Class 4"}
	assert.True(t, scoped.VisibleTo("Class 4"))
	assert.False(t, scoped.VisibleTo("Class 5"))

	open := domain.Quiz{ClassScope: domain.ClassScopeAll}
	assert.True(t, open.VisibleTo("Class 5"))
	assert.True(t, open.VisibleTo(""))
}

func TestAttendanceStatusValid(t *testing.T) {
	assert.True(t, domain.AttendancePresent.Valid())
	assert.True(t, domain.AttendanceLate.Valid())
	assert.True(t, domain.AttendanceAbsent.Valid())
	assert.False(t, domain.AttendanceStatus("holiday").Valid())
}
