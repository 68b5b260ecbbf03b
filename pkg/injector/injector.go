// Package injector owns the per-turn skill activation lifecycle. Activating a
// skill loads its full document into a rendered context block; deactivation
// drops it again so that skill content never leaks into unrelated turns.
package injector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/skills"
)

// maxAutoActivated caps how many skills the query-time injection path
// activates at once.
const maxAutoActivated = 2

// ErrSkillNotFound is returned by Activate for names absent from the catalog.
var ErrSkillNotFound = errors.New("skill not found")

// Injector tracks which skills are active for the in-flight turn. The mutex
// only guards the active set so that turns on distinct threads may run
// concurrently; per-thread serialization is the caller's contract.
type Injector struct {
	registry *skills.Registry

	mu     sync.Mutex
	active map[string]*skills.Metadata
}

// New creates an injector bound to a registry with an empty active set.
func New(registry *skills.Registry) *Injector {
	return &Injector{
		registry: registry,
		active:   make(map[string]*skills.Metadata),
	}
}

// Activate marks a skill as active and returns its rendered injection block.
// Unknown names fail with ErrSkillNotFound and leave the active set
// untouched. Re-activating an active skill just re-renders it.
func (inj *Injector) Activate(ctx context.Context, name string) (string, error) {
	skill, ok := inj.registry.Get(name)
	if !ok {
		return "", errors.Wrap(ErrSkillNotFound, name)
	}

	inj.mu.Lock()
	inj.active[name] = skill
	inj.mu.Unlock()

	logger.G(ctx).WithField("skill", name).Info("activated skill")
	return renderActivation(skill), nil
}

// Deactivate removes a skill from the active set. Returns false when the
// skill was not active.
func (inj *Injector) Deactivate(ctx context.Context, name string) bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if _, ok := inj.active[name]; !ok {
		logger.G(ctx).WithField("skill", name).Warn("skill not active")
		return false
	}
	delete(inj.active, name)
	logger.G(ctx).WithField("skill", name).Info("deactivated skill")
	return true
}

// DeactivateAll clears the active set. Called unconditionally at the end of
// every turn so activation stays scoped to one request.
func (inj *Injector) DeactivateAll(ctx context.Context) {
	inj.mu.Lock()
	inj.active = make(map[string]*skills.Metadata)
	inj.mu.Unlock()
	logger.G(ctx).Debug("deactivated all skills")
}

// Active returns the names of currently active skills in catalog order.
func (inj *Injector) Active() []string {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	var names []string
	for _, skill := range inj.registry.List() {
		if _, ok := inj.active[skill.Name]; ok {
			names = append(names, skill.Name)
		}
	}
	return names
}

// IsActive reports whether a skill is currently active.
func (inj *Injector) IsActive(name string) bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	_, ok := inj.active[name]
	return ok
}

// QueryContextInjection searches the catalog for skills relevant to the
// query, auto-activates up to the top two matches not already active, and
// returns their concatenated rendered blocks. Returns "" when nothing
// matches.
func (inj *Injector) QueryContextInjection(ctx context.Context, query string) string {
	relevant := inj.registry.Search(ctx, query, skills.DefaultMinScore)
	if len(relevant) == 0 {
		return ""
	}

	var parts []string
	for _, skill := range relevant {
		if len(parts) >= maxAutoActivated {
			break
		}
		if inj.IsActive(skill.Name) {
			continue
		}
		block, err := inj.Activate(ctx, skill.Name)
		if err != nil {
			continue
		}
		parts = append(parts, block)
	}
	return strings.Join(parts, "\n")
}

// ActiveSummary renders a compact block (no document bodies) for every
// currently active skill, for inclusion in ongoing context. Returns "" when
// no skill is active.
func (inj *Injector) ActiveSummary() string {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if len(inj.active) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<active_skills>")
	for _, skill := range inj.registry.List() {
		active, ok := inj.active[skill.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, `
  <skill>
    <name>%s</name>
    <description>%s</description>
    <tags>%s</tags>
  </skill>`, active.Name, active.Description, strings.Join(active.Tags, ", "))
	}
	b.WriteString("\n</active_skills>")
	return b.String()
}

// renderActivation wraps a skill's full document in the injection block sent
// to the model.
func renderActivation(skill *skills.Metadata) string {
	return fmt.Sprintf(`<skill_activated>
  <name>%s</name>
  <description>%s</description>

  <skill_content>
%s
  </skill_content>

  <instructions>
You have now activated the '%s' skill. Follow the guidelines in the skill content above to assist the user with their request.
  </instructions>
</skill_activated>`, skill.Name, skill.Description, skill.FullContent, skill.Name)
}
