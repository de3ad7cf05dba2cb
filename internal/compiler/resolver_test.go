package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func contractSteps() []schema.WorkflowStep {
	return []schema.WorkflowStep{
		{ID: "rows", Type: schema.StepAction, OutputContract: schema.ContractArray},
		{ID: "matched", Type: schema.StepTransform, OutputContract: schema.ContractItems},
		{ID: "by_owner", Type: schema.StepTransform, OutputContract: schema.ContractKeyed},
		{ID: "stats", Type: schema.StepTransform, OutputContract: schema.ContractObject},
		{ID: "line", Type: schema.StepTransform, OutputContract: schema.ContractScalar},
	}
}

func TestResolver_ContractTable(t *testing.T) {
	r := NewResolver(contractSteps())

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "array bare", ref: "rows", want: "rows"},
		{name: "array rejects field", ref: "rows.first", wantErr: true},
		{name: "items bare", ref: "matched", want: "matched.items"},
		{name: "items explicit suffix", ref: "matched.items", want: "matched.items"},
		{name: "items rejects other field", ref: "matched.count", wantErr: true},
		{name: "keyed bare", ref: "by_owner", want: "by_owner"},
		{name: "keyed bucket", ref: "by_owner.alice", want: "by_owner.alice"},
		{name: "object bare", ref: "stats", want: "stats"},
		{name: "object field", ref: "stats.total", want: "stats.total"},
		{name: "scalar bare", ref: "line", want: "line"},
		{name: "scalar rejects field", ref: "line.text", wantErr: true},
		{name: "unknown step", ref: "ghost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				var werr *schema.WeftError
				require.ErrorAs(t, err, &werr)
				assert.Equal(t, schema.ErrCodeReference, werr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_NestedStepsIndexed(t *testing.T) {
	steps := []schema.WorkflowStep{
		{
			ID:             "gate",
			Type:           schema.StepConditional,
			OutputContract: schema.ContractObject,
			Conditional: &schema.ConditionalSpec{
				Then: schema.BranchSpec{Steps: []schema.WorkflowStep{
					{ID: "inner_mail", Type: schema.StepAction, OutputContract: schema.ContractObject},
				}},
				Else: &schema.BranchSpec{Steps: []schema.WorkflowStep{
					{ID: "inner_skip", Type: schema.StepAction, OutputContract: schema.ContractObject},
				}},
			},
		},
		{
			ID:             "fanout",
			Type:           schema.StepScatterGather,
			OutputContract: schema.ContractArray,
			ScatterGather: &schema.ScatterGatherSpec{
				Scatter: schema.ScatterSpec{Steps: []schema.WorkflowStep{
					{ID: "per_item_mail", Type: schema.StepAction, OutputContract: schema.ContractObject},
				}},
			},
		},
	}

	r := NewResolver(steps)

	for _, id := range []string{"gate", "inner_mail", "inner_skip", "fanout", "per_item_mail"} {
		_, ok := r.Lookup(id)
		assert.True(t, ok, "step %q should be indexed", id)
	}

	got, err := r.Resolve("inner_mail.status")
	require.NoError(t, err)
	assert.Equal(t, "inner_mail.status", got)
}
