package gate

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/ticket-platform/internal/model"
)

// Rule restricts every path starting with Prefix to Roles.
type Rule struct {
	Prefix string       `yaml:"prefix"`
	Roles  []model.Role `yaml:"roles"`
}

// Allows reports whether role is listed in the rule.
func (r Rule) Allows(role model.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Policy is the route table the gate enforces.
//
// Rules are evaluated in order. A rule whose prefix equals the path wins
// outright; otherwise the first rule whose prefix matches applies. A path
// matching no rule only requires authentication.
type Policy struct {
	APIPrefixes       []string `yaml:"api_prefixes"`
	PublicPrefixes    []string `yaml:"public_prefixes"`
	SensitivePrefixes []string `yaml:"sensitive_prefixes"`
	Rules             []Rule   `yaml:"rules"`

	// PagePaths are routed pages without an .html suffix. Rejections on
	// them redirect like any .html page.
	PagePaths []string `yaml:"page_paths"`

	// LoginPath is where unauthenticated page requests are sent.
	LoginPath string `yaml:"login_path"`
	// Landing maps a role to the page "/" redirects it to. Roles not
	// listed go to DefaultLanding.
	Landing        map[model.Role]string `yaml:"landing"`
	DefaultLanding string                `yaml:"default_landing"`
}

var (
	organizersAndUp = []model.Role{model.RoleOwnerOrganizer, model.RoleAdminOrganizer, model.RoleAdmin, model.RoleSuperAdmin}
	adminsOnly      = []model.Role{model.RoleAdmin, model.RoleSuperAdmin}
)

// DefaultPolicy returns the built-in route table.
//
// The /api/admin, /api/organizer and /api/user entries never fire while
// /api/ is an API prefix: API routes guard themselves with RequireUser and
// RequireRole.
func DefaultPolicy() Policy {
	return Policy{
		APIPrefixes: []string{"/auth/", "/api/"},
		PublicPrefixes: []string{
			"/signup.html",
			"/index.html",
			"/signup",
			"/login",
			"/js/",
			"/css/",
			"/images/",
			"/favicon.ico",
			"/healthz",
			"/metrics",
		},
		SensitivePrefixes: []string{
			"/admin_dashboard",
			"/organizer_dashboard",
			"/api/admin",
			"/api/organizer",
		},
		Rules: []Rule{
			{Prefix: "/admin_dashboard", Roles: adminsOnly},
			{Prefix: "/api/admin", Roles: adminsOnly},
			{Prefix: "/organizer_dashboard", Roles: organizersAndUp},
			{Prefix: "/api/organizer", Roles: organizersAndUp},
			{Prefix: "/home.html", Roles: model.AllRoles},
			{Prefix: "/api/user", Roles: model.AllRoles},
		},
		PagePaths: []string{"/login", "/signup", "/admin_dashboard"},
		LoginPath: "/index.html",
		Landing: map[model.Role]string{
			model.RoleUser:           "/home.html",
			model.RoleOwnerOrganizer: "/organizer_dashboard.html",
			model.RoleAdminOrganizer: "/organizer_dashboard.html",
			model.RoleAdmin:          "/admin_dashboard.html",
			model.RoleSuperAdmin:     "/admin_dashboard.html",
		},
		DefaultLanding: "/home.html",
	}
}

// LoadPolicy reads a YAML policy file. Keys absent from the file keep their
// DefaultPolicy values; a list present in the file replaces the default list.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("gate: reading policy %s: %w", path, err)
	}

	p := DefaultPolicy()
	// Decode into a zero map so a file listing only some roles does not
	// inherit the default landing pages of the others.
	landing := p.Landing
	p.Landing = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("gate: parsing policy %s: %w", path, err)
	}
	if p.Landing == nil {
		p.Landing = landing
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("gate: policy %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every path is absolute and every role is known.
func (p Policy) Validate() error {
	paths := map[string][]string{
		"api_prefixes":       p.APIPrefixes,
		"public_prefixes":    p.PublicPrefixes,
		"sensitive_prefixes": p.SensitivePrefixes,
		"page_paths":         p.PagePaths,
	}
	for key, list := range paths {
		for _, prefix := range list {
			if !strings.HasPrefix(prefix, "/") {
				return fmt.Errorf("%s: %q must start with /", key, prefix)
			}
			if prefix == "/" {
				return fmt.Errorf("%s: \"/\" would match every path", key)
			}
		}
	}

	for i, rule := range p.Rules {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("rules[%d]: prefix %q must start with /", i, rule.Prefix)
		}
		if len(rule.Roles) == 0 {
			return fmt.Errorf("rules[%d]: %s lists no roles", i, rule.Prefix)
		}
		for _, role := range rule.Roles {
			if !role.IsValid() {
				return fmt.Errorf("rules[%d]: unknown role %q", i, role)
			}
		}
	}

	for role := range p.Landing {
		if !role.IsValid() {
			return fmt.Errorf("landing: unknown role %q", role)
		}
	}
	if !strings.HasPrefix(p.LoginPath, "/") {
		return fmt.Errorf("login_path %q must start with /", p.LoginPath)
	}
	return nil
}

// RuleFor returns the rule governing path, if any.
func (p Policy) RuleFor(path string) (Rule, bool) {
	for _, rule := range p.Rules {
		if rule.Prefix == path {
			return rule, true
		}
	}
	for _, rule := range p.Rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

// LandingFor returns the page "/" redirects a signed-in user to.
func (p Policy) LandingFor(role model.Role) string {
	if target, ok := p.Landing[role]; ok {
		return target
	}
	return p.DefaultLanding
}

func (p Policy) isAPI(path string) bool       { return hasAnyPrefix(path, p.APIPrefixes) }
func (p Policy) isPublic(path string) bool    { return hasAnyPrefix(path, p.PublicPrefixes) }
func (p Policy) isSensitive(path string) bool { return hasAnyPrefix(path, p.SensitivePrefixes) }

// isPage reports whether rejections on path redirect instead of answering
// JSON: .html files and the routed page paths.
func (p Policy) isPage(path string) bool {
	if strings.HasSuffix(path, ".html") {
		return true
	}
	for _, page := range p.PagePaths {
		if path == page {
			return true
		}
	}
	return false
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
