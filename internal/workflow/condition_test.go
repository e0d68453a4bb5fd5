package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition(t *testing.T) {
	r := NewResolver(quietLogger)
	data := runContext()

	tests := []struct {
		expr string
		want bool
	}{
		{`entity.name == "Standup"`, true},
		{`entity.name != 'Standup'`, false},
		{`"work" in entity.tags`, true},
		{`"home" not in entity.tags`, true},
		{`entity.metadata.priority in ["high", "urgent"]`, true},
		{`entity.metadata.points >= 3 and entity.metadata.points < 5`, true},
		{`entity.metadata.points > 3`, false},
		{`count == 2`, true},
		{`entity.missing == null`, true},
		{`entity.missing`, false},
		{`not entity.missing`, true},
		{`entity.tags`, true},
		{`{{ entity.name }} == "Standup"`, true},
		{`"{{ entity.name }}-x" == "Standup-x"`, true},
		{`"Stand" in entity.name`, true},
		{`"owner" in entity.metadata`, true},
		{`false or (true and not false)`, true},
		{`NOT (entity.name == "Standup") OR count == 3`, false},
		{`[]`, false},
		{`"a" < "b"`, true},
		{`-1 < 0`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvaluateCondition(tt.expr, data, r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Errors(t *testing.T) {
	data := runContext()
	for _, expr := range []string{
		`entity.name ==`,
		`"unterminated`,
		`(count == 2`,
		`count == 2 )`,
		`count ; 2`,
		`entity.name > 3`,
		`[1, 2`,
		`{{ entity.name`,
		`and`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := EvaluateCondition(expr, data, nil)
			assert.Error(t, err)
		})
	}
}
