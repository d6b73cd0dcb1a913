package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/crypto"
	"github.com/edgeserve/edgeserve/internal/model"
)

// ProxyRuleRepo persists model.ProxyRule rows. It owns the at-rest
// encryption of HeaderConfig.Add values: callers always see plaintext,
// the database only ever stores the AEAD wire form (§6).
type ProxyRuleRepo struct {
	db     *sql.DB
	cipher *crypto.HeaderCipher
}

const proxyRuleColumns = `id, rule_set_id, path_pattern, target_url, proxy_type, strip_prefix, order_index, timeout_ms, preserve_host, forward_cookies, header_config_json, auth_transform_kind, auth_transform_arg, email_handler_json, is_enabled, created_at_ns`

// headerConfigWire is the JSON shape stored in proxy_rules.header_config_json.
type headerConfigWire struct {
	Forward []string          `json:"forward,omitempty"`
	Strip   []string          `json:"strip,omitempty"`
	Add     map[string]string `json:"add,omitempty"`
}

func (r *ProxyRuleRepo) encodeHeaderConfig(hc model.HeaderConfig) (string, error) {
	wire := headerConfigWire{Forward: hc.Forward, Strip: hc.Strip}
	if len(hc.Add) > 0 {
		wire.Add = make(map[string]string, len(hc.Add))
		for k, v := range hc.Add {
			enc, err := r.cipher.Encrypt(v)
			if err != nil {
				return "", fmt.Errorf("encrypt header add[%s]: %w", k, err)
			}
			wire.Add[k] = enc
		}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal header config: %w", err)
	}
	return string(b), nil
}

func (r *ProxyRuleRepo) decodeHeaderConfig(raw string) (model.HeaderConfig, error) {
	var wire headerConfigWire
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &wire); err != nil {
			return model.HeaderConfig{}, fmt.Errorf("unmarshal header config: %w", err)
		}
	}
	hc := model.HeaderConfig{Forward: wire.Forward, Strip: wire.Strip}
	if len(wire.Add) > 0 {
		hc.Add = make(map[string]string, len(wire.Add))
		for k, v := range wire.Add {
			hc.Add[k] = r.cipher.Decrypt(v)
		}
	}
	return hc, nil
}

// Create inserts a new proxy rule.
func (r *ProxyRuleRepo) Create(ctx context.Context, rule model.ProxyRule) error {
	headerJSON, err := r.encodeHeaderConfig(rule.HeaderConfig)
	if err != nil {
		return err
	}
	var emailJSON sql.NullString
	if rule.EmailHandlerConfig != nil {
		b, err := json.Marshal(rule.EmailHandlerConfig)
		if err != nil {
			return fmt.Errorf("marshal email handler config: %w", err)
		}
		emailJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO proxy_rules (`+proxyRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID.String(), rule.RuleSetID.String(), rule.PathPattern, rule.TargetURL, string(rule.ProxyType),
		boolToInt(rule.StripPrefix), rule.Order, rule.TimeoutMs, boolToInt(rule.PreserveHost), boolToInt(rule.ForwardCookies),
		headerJSON, string(rule.AuthTransformKind), rule.AuthTransformArg, emailJSON, boolToInt(rule.IsEnabled), rule.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert proxy rule: %w", err)
	}
	return nil
}

func (r *ProxyRuleRepo) scanProxyRule(row rowScanner) (model.ProxyRule, error) {
	var rule model.ProxyRule
	var idStr, ruleSetIDStr string
	var proxyType, authTransformKind string
	var stripPrefix, preserveHost, forwardCookies, isEnabled int64
	var headerJSON string
	var emailJSON sql.NullString
	if err := row.Scan(&idStr, &ruleSetIDStr, &rule.PathPattern, &rule.TargetURL, &proxyType, &stripPrefix, &rule.Order,
		&rule.TimeoutMs, &preserveHost, &forwardCookies, &headerJSON, &authTransformKind, &rule.AuthTransformArg,
		&emailJSON, &isEnabled, &rule.CreatedAtNs); err != nil {
		return model.ProxyRule{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.ProxyRule{}, fmt.Errorf("parse proxy rule id: %w", err)
	}
	ruleSetID, err := model.ParseID(ruleSetIDStr)
	if err != nil {
		return model.ProxyRule{}, fmt.Errorf("parse proxy rule ruleset id: %w", err)
	}
	rule.ID, rule.RuleSetID = id, ruleSetID
	rule.ProxyType = model.ProxyKind(proxyType)
	rule.AuthTransformKind = model.AuthTransformKind(authTransformKind)
	rule.StripPrefix = intToBool(stripPrefix)
	rule.PreserveHost = intToBool(preserveHost)
	rule.ForwardCookies = intToBool(forwardCookies)
	rule.IsEnabled = intToBool(isEnabled)
	if rule.HeaderConfig, err = r.decodeHeaderConfig(headerJSON); err != nil {
		return model.ProxyRule{}, err
	}
	if emailJSON.Valid {
		var cfg model.EmailHandlerConfig
		if err := json.Unmarshal([]byte(emailJSON.String), &cfg); err != nil {
			return model.ProxyRule{}, fmt.Errorf("unmarshal email handler config: %w", err)
		}
		rule.EmailHandlerConfig = &cfg
	}
	return rule, nil
}

// ListByRuleSet returns every enabled rule in a rule set, in ascending
// evaluation order.
func (r *ProxyRuleRepo) ListByRuleSet(ctx context.Context, ruleSetID model.ID) ([]model.ProxyRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+proxyRuleColumns+` FROM proxy_rules
		WHERE rule_set_id = ? AND is_enabled = 1
		ORDER BY order_index ASC`, ruleSetID.String())
	if err != nil {
		return nil, fmt.Errorf("query proxy rules: %w", err)
	}
	defer rows.Close()

	var out []model.ProxyRule
	for rows.Next() {
		rule, err := r.scanProxyRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Get looks up a proxy rule by ID.
func (r *ProxyRuleRepo) Get(ctx context.Context, id model.ID) (model.ProxyRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+proxyRuleColumns+` FROM proxy_rules WHERE id = ?`, id.String())
	rule, err := r.scanProxyRule(row)
	if err == sql.ErrNoRows {
		return model.ProxyRule{}, apperr.New(apperr.KindNotFound, "PROXY_RULE_NOT_FOUND", "proxy rule not found")
	}
	if err != nil {
		return model.ProxyRule{}, fmt.Errorf("scan proxy rule: %w", err)
	}
	return rule, nil
}
