package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crjfisher/bergamot/internal/config"
	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "manage procedural rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "list configured procedural rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		store, err := structstore.Open(cmd.Context(), cfg.StoragePath)
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := store.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range rules {
			fmt.Printf("%s\tpriority=%d\tcondition=%q\taction=%s\n", r.ID, r.Priority, r.Condition, r.Action.Kind)
		}
		return nil
	},
}

var (
	ruleCondition string
	rulePriority  int
	ruleAction    string
	rulePreferTo  string
	ruleBoostBy   float64
)

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "add a procedural rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		store, err := structstore.Open(cmd.Context(), cfg.StoragePath)
		if err != nil {
			return err
		}
		defer store.Close()

		rule := &models.ProceduralRule{
			ID:        uuid.NewString(),
			Priority:  rulePriority,
			Condition: ruleCondition,
			Action: models.RuleAction{
				Kind:            models.RuleActionKind(ruleAction),
				PreferType:      models.Classification(rulePreferTo),
				ConfidenceBoost: ruleBoostBy,
			},
		}
		if err := store.CreateRule(cmd.Context(), rule); err != nil {
			return err
		}
		fmt.Println(rule.ID)
		return nil
	},
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleCondition, "condition", "", "expr-lang boolean expression")
	rulesAddCmd.Flags().IntVar(&rulePriority, "priority", 0, "higher evaluated first")
	rulesAddCmd.Flags().StringVar(&ruleAction, "action", "", "always_process|never_process|prefer_type|boost_confidence")
	rulesAddCmd.Flags().StringVar(&rulePreferTo, "prefer-type", "", "classification to prefer (prefer_type only)")
	rulesAddCmd.Flags().Float64Var(&ruleBoostBy, "boost", 0, "confidence delta (boost_confidence only)")
	rulesAddCmd.MarkFlagRequired("condition")
	rulesAddCmd.MarkFlagRequired("action")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd)
}
