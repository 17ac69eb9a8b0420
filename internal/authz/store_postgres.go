// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package authz

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/pkg/uuid"
)

// # Postgres Rule Store

// PostgresRuleStore implements the RuleStore interface over
// portal.permission and portal.permissioncondition.
type PostgresRuleStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRuleStore creates a new PostgreSQL implementation of the
// RuleStore.
func NewPostgresRuleStore(pool *pgxpool.Pool) *PostgresRuleStore {
	return &PostgresRuleStore{pool: pool}
}

// conditionPayload is the JSON shape of one persisted condition. Which
// fields are populated depends on the condition type.
type conditionPayload struct {
	Text      string     `json:"text,omitempty"`
	Number    float64    `json:"number,omitempty"`
	List      []string   `json:"list,omitempty"`
	Window    TimeWindow `json:"window,omitempty"`
	Whitelist []string   `json:"whitelist,omitempty"`
	Blacklist []string   `json:"blacklist,omitempty"`
}

/*
LoadRules reads every permission rule with its conditions.

Description: Rules and conditions are fetched in two queries and joined in
memory on permissionid. Condition payloads are stored as JSONB and decoded
per condition type; a payload that fails to decode fails the whole load
rather than silently dropping a constraint.

Parameters:
  - ctx: context.Context

Returns:
  - []*PermissionRule: Unsorted; the engine orders by priority
  - error: Execution or payload decoding errors
*/
func (store *PostgresRuleStore) LoadRules(ctx context.Context) ([]*PermissionRule, error) {
	const ruleQuery = `
		SELECT id, name, resource, action, priority, effect
		FROM portal.permission`

	rows, err := store.pool.Query(ctx, ruleQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres_rule_store_query_failed: %w", err)
	}
	defer rows.Close()

	var rules []*PermissionRule
	byID := make(map[string]*PermissionRule)
	for rows.Next() {
		rule := &PermissionRule{}
		var effect string
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Resource, &rule.Action, &rule.Priority, &effect); err != nil {
			return nil, fmt.Errorf("postgres_rule_store_scan_failed: %w", err)
		}
		rule.Effect = Effect(effect)
		rules = append(rules, rule)
		byID[rule.ID] = rule
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_rule_store_rows_failed: %w", err)
	}

	if len(rules) == 0 {
		return nil, nil
	}

	if err := store.attachConditions(ctx, byID); err != nil {
		return nil, err
	}

	return rules, nil
}

// attachConditions loads all conditions and appends each to its owning
// rule in stable (insertion) order.
func (store *PostgresRuleStore) attachConditions(ctx context.Context, byID map[string]*PermissionRule) error {
	const conditionQuery = `
		SELECT id, permissionid, conditiontype, key, operator, payload
		FROM portal.permissioncondition
		ORDER BY permissionid, id`

	rows, err := store.pool.Query(ctx, conditionQuery)
	if err != nil {
		return fmt.Errorf("postgres_rule_store_condition_query_failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var condition Condition
		var permissionID, conditionType, operator string
		var key *string
		var raw []byte
		if err := rows.Scan(&condition.ID, &permissionID, &conditionType, &key, &operator, &raw); err != nil {
			return fmt.Errorf("postgres_rule_store_condition_scan_failed: %w", err)
		}

		condition.Type = ConditionType(conditionType)
		condition.Operator = Operator(operator)
		if key != nil {
			condition.Key = *key
		}

		if len(raw) > 0 {
			var payload conditionPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("postgres_rule_store_condition_payload_invalid: %w", err)
			}
			condition.Text = payload.Text
			condition.Number = payload.Number
			condition.List = payload.List
			condition.Window = payload.Window
			condition.Whitelist = payload.Whitelist
			condition.Blacklist = payload.Blacklist
		}

		rule, ok := byID[permissionID]
		if !ok {
			continue
		}
		rule.Conditions = append(rule.Conditions, condition)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres_rule_store_condition_rows_failed: %w", err)
	}

	return nil
}

/*
SeedRules inserts a rule set into an empty store.

Description: Runs in one transaction so a partially seeded rule table can
never be observed. Rules and conditions without IDs are assigned fresh
UUIDv7 identifiers.

Parameters:
  - ctx: context.Context
  - rules: []*PermissionRule (mutated: IDs are filled in)

Returns:
  - error: Execution errors; the transaction is rolled back
*/
func (store *PostgresRuleStore) SeedRules(ctx context.Context, rules []*PermissionRule) error {
	transaction, err := store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_rule_store_seed_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.New()
		}
		if err := store.insertRule(ctx, transaction, rule); err != nil {
			return err
		}
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_rule_store_seed_commit_failed: %w", err)
	}

	return nil
}

func (store *PostgresRuleStore) insertRule(ctx context.Context, transaction pgx.Tx, rule *PermissionRule) error {
	const ruleInsert = `
		INSERT INTO portal.permission (id, name, resource, action, priority, effect)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := transaction.Exec(ctx, ruleInsert,
		rule.ID, rule.Name, rule.Resource, rule.Action, rule.Priority, string(rule.Effect))
	if err != nil {
		return fmt.Errorf("postgres_rule_store_insert_failed: %w", err)
	}

	const conditionInsert = `
		INSERT INTO portal.permissioncondition (id, permissionid, conditiontype, key, operator, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for i := range rule.Conditions {
		condition := &rule.Conditions[i]
		if condition.ID == "" {
			condition.ID = uuid.New()
		}

		payload, err := json.Marshal(conditionPayload{
			Text:      condition.Text,
			Number:    condition.Number,
			List:      condition.List,
			Window:    condition.Window,
			Whitelist: condition.Whitelist,
			Blacklist: condition.Blacklist,
		})
		if err != nil {
			return fmt.Errorf("postgres_rule_store_condition_encode_failed: %w", err)
		}

		var key *string
		if condition.Key != "" {
			key = &condition.Key
		}

		_, err = transaction.Exec(ctx, conditionInsert,
			condition.ID, rule.ID, string(condition.Type), key, string(condition.Operator), payload)
		if err != nil {
			return fmt.Errorf("postgres_rule_store_condition_insert_failed: %w", err)
		}
	}

	return nil
}
