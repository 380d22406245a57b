package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log"
	"strings"

	"github.com/firebase/genkit/go/core"
	"github.com/openkg/toolagent"
)

// GoalQuery is the input of the goal interpretation flow.
type GoalQuery struct {
	Goal string `json:"goal"`
}

// GoalPlan is the flow's answer: which capability to request and with what
// initial inputs, keyed by kind name.
type GoalPlan struct {
	Capability string                 `json:"capability"`
	Inputs     map[string]interface{} `json:"inputs"`
}

// GenkitGoalPlanner interprets free-text goals through a genkit flow, so
// every interpretation is traced and inspectable. Interpretations are cached
// by goal digest.
type GenkitGoalPlanner struct {
	goalFlow *core.Flow[*GoalQuery, *GoalPlan, struct{}]
	cache    toolagent.Cache
}

// NewGenkitGoalPlanner creates the planner around an already defined flow.
func NewGenkitGoalPlanner(goalFlow *core.Flow[*GoalQuery, *GoalPlan, struct{}], cache toolagent.Cache) *GenkitGoalPlanner {
	return &GenkitGoalPlanner{
		goalFlow: goalFlow,
		cache:    cache,
	}
}

// PlanGoal implements toolagent.GoalPlanner.
func (p *GenkitGoalPlanner) PlanGoal(ctx context.Context, goal string) (string, map[toolagent.Kind]interface{}, error) {
	cacheKey := goalCacheKey(goal)

	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, cacheKey); err == nil && cached != nil {
			if plan, ok := cached.(*GoalPlan); ok {
				return plan.Capability, kindInputs(plan.Inputs), nil
			}
		}
	}

	plan, err := p.goalFlow.Run(ctx, &GoalQuery{Goal: goal})
	if err != nil {
		return "", nil, toolagent.NewGoalResolutionError(goal, err)
	}
	if plan == nil || plan.Capability == "" {
		return "", nil, toolagent.NewGoalResolutionError(goal, nil)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, cacheKey, plan); err != nil {
			log.Printf("Failed to cache goal interpretation (goal: %q): %v", goal, err)
		}
	}

	return plan.Capability, kindInputs(plan.Inputs), nil
}

func goalCacheKey(goal string) string {
	hasher := sha1.New()
	hasher.Write([]byte(goal))
	return "goal:" + hex.EncodeToString(hasher.Sum(nil))
}

func kindInputs(inputs map[string]interface{}) map[toolagent.Kind]interface{} {
	out := make(map[toolagent.Kind]interface{}, len(inputs))
	for name, payload := range inputs {
		out[toolagent.Kind(name)] = payload
	}
	return out
}

// goalRule maps goal phrasing onto a capability. Rules are ordered; the
// first match wins, so more specific phrasings come first.
type goalRule struct {
	keywords   []string
	capability string
}

var goalRules = []goalRule{
	{[]string{"guideline", "指南"}, "MG_EXTRACT"},
	{[]string{"event", "事件"}, "EE"},
	{[]string{"relation", "关系"}, "RE"},
	{[]string{"attribute", "属性"}, "AE"},
	{[]string{"ner", "entit", "实体"}, "NER"},
}

// MatchGoal is the rule-based body of the goal interpretation flow: scan the
// goal for task keywords and treat the whole goal text as the raw input. A
// model-backed interpreter can replace it behind the same flow name.
func MatchGoal(_ context.Context, query *GoalQuery) (*GoalPlan, error) {
	goal := strings.ToLower(strings.TrimSpace(query.Goal))
	if goal == "" {
		return nil, toolagent.NewGoalResolutionError(query.Goal, nil)
	}

	for _, rule := range goalRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(goal, keyword) {
				return &GoalPlan{
					Capability: rule.capability,
					Inputs: map[string]interface{}{
						string(toolagent.KindRawText): query.Goal,
					},
				}, nil
			}
		}
	}

	return nil, toolagent.NewGoalResolutionError(query.Goal, nil)
}
