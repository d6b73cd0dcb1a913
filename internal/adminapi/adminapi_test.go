package adminapi

import (
	"testing"

	"github.com/edgeserve/edgeserve/internal/model"
)

func TestValidateProxyRuleSetRejectsDuplicatePattern(t *testing.T) {
	rules := []model.ProxyRule{
		{PathPattern: "/api/*", Order: 1, ProxyType: model.ProxyExternal},
		{PathPattern: "/api/*", Order: 2, ProxyType: model.ProxyExternal},
	}
	if err := ValidateProxyRuleSet(rules); err == nil {
		t.Fatal("expected error for duplicate path pattern")
	}
}

func TestValidateProxyRuleSetRejectsDuplicateOrder(t *testing.T) {
	rules := []model.ProxyRule{
		{PathPattern: "/a/*", Order: 1, ProxyType: model.ProxyExternal},
		{PathPattern: "/b/*", Order: 1, ProxyType: model.ProxyExternal},
	}
	if err := ValidateProxyRuleSet(rules); err == nil {
		t.Fatal("expected error for duplicate order")
	}
}

func TestValidateProxyRuleSetRequiresEmailConfig(t *testing.T) {
	rules := []model.ProxyRule{
		{PathPattern: "/contact", Order: 1, ProxyType: model.ProxyEmailForm},
	}
	if err := ValidateProxyRuleSet(rules); err == nil {
		t.Fatal("expected error for missing EmailHandlerConfig")
	}
}

func TestValidateProxyRuleSetAcceptsConsistentRules(t *testing.T) {
	rules := []model.ProxyRule{
		{PathPattern: "/api/*", Order: 1, ProxyType: model.ProxyExternal},
		{PathPattern: "/contact", Order: 2, ProxyType: model.ProxyEmailForm, EmailHandlerConfig: &model.EmailHandlerConfig{DestinationEmail: "a@b.com"}},
	}
	if err := ValidateProxyRuleSet(rules); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateAliasNameRejectsEmpty(t *testing.T) {
	if err := ValidateAliasName(""); err == nil {
		t.Fatal("expected error for empty alias name")
	}
}

func TestValidateDomainMappingRequiresExactlyOneTarget(t *testing.T) {
	projectID := model.NewID()
	aliasID := model.NewID()
	req := CreateDomainMappingRequest{ProjectID: &projectID, AliasID: &aliasID, Domain: "example.com"}
	if err := ValidateDomainMapping(req, true); err == nil {
		t.Fatal("expected error when both ProjectID and AliasID are set")
	}

	reqNeither := CreateDomainMappingRequest{Domain: "example.com"}
	if err := ValidateDomainMapping(reqNeither, true); err == nil {
		t.Fatal("expected error when neither ProjectID nor AliasID are set")
	}
}

func TestValidateDomainMappingRejectsPrivateTarget(t *testing.T) {
	projectID := model.NewID()
	req := CreateDomainMappingRequest{ProjectID: &projectID, Domain: "example.com"}
	if err := ValidateDomainMapping(req, false); err == nil {
		t.Fatal("expected error for a custom domain bound to non-public content")
	}
}

func TestValidateRetentionRuleRequiresPathModeWithPatterns(t *testing.T) {
	req := PutRetentionRuleRequest{RetentionDays: 30, PathMode: model.PathModeInclude}
	if err := ValidateRetentionRule(req); err == nil {
		t.Fatal("expected error when PathMode is set without PathPatterns")
	}

	req2 := PutRetentionRuleRequest{RetentionDays: 30, PathPatterns: []string{"/tmp/*"}}
	if err := ValidateRetentionRule(req2); err == nil {
		t.Fatal("expected error when PathPatterns is set without PathMode")
	}
}

func TestValidateRetentionRuleRejectsNonPositiveDays(t *testing.T) {
	req := PutRetentionRuleRequest{RetentionDays: 0}
	if err := ValidateRetentionRule(req); err == nil {
		t.Fatal("expected error for non-positive RetentionDays")
	}
}
