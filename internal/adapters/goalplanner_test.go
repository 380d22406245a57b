package adapters

import (
	"context"
	"testing"

	"github.com/openkg/toolagent"
)

func TestMatchGoal(t *testing.T) {
	cases := []struct {
		goal string
		want string
	}{
		{"extract the entities from this sentence", "NER"},
		{"抽取这句话中的实体", "NER"},
		{"what relations hold between 孔子 and 鲁国", "RE"},
		{"识别文本中的关系", "RE"},
		{"find attribute values for the company", "AE"},
		{"这段文本描述了什么事件", "EE"},
		{"is this a medical guideline? extract its structure", "MG_EXTRACT"},
		{"请对这份医疗指南做结构化抽取", "MG_EXTRACT"},
	}
	for _, tc := range cases {
		plan, err := MatchGoal(context.Background(), &GoalQuery{Goal: tc.goal})
		if err != nil {
			t.Errorf("MatchGoal(%q): %v", tc.goal, err)
			continue
		}
		if plan.Capability != tc.want {
			t.Errorf("MatchGoal(%q) = %s, want %s", tc.goal, plan.Capability, tc.want)
		}
		if plan.Inputs[string(toolagent.KindRawText)] != tc.goal {
			t.Errorf("MatchGoal(%q) should carry the goal as raw text", tc.goal)
		}
	}
}

func TestMatchGoalUnrecognized(t *testing.T) {
	for _, goal := range []string{"", "translate this to french"} {
		if _, err := MatchGoal(context.Background(), &GoalQuery{Goal: goal}); err == nil {
			t.Errorf("MatchGoal(%q) should fail", goal)
		}
	}
}
