// Package authz is the authorization gate: it maps a caller's role and home base
// to the operations and base scopes the ledger admits.
package authz

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/armory-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/armory-ledger/pkg/errors"
)

// Caller is the identity supplied per request by the identity collaborator. It is
// trusted as-is.
type Caller struct {
	Role     enums.Role
	HomeBase string
}

// NewCaller parses raw role and base values, e.g. from request headers.
func NewCaller(role, homeBase string) (Caller, error) {
	parsed, err := enums.ParseRole(role)
	if err != nil {
		return Caller{}, pkgerrors.Wrap(pkgerrors.CodeUnauthenticated, err, "unrecognized role")
	}
	caller := Caller{Role: parsed, HomeBase: strings.TrimSpace(homeBase)}
	if err := caller.Validate(); err != nil {
		return Caller{}, err
	}
	return caller, nil
}

// Validate rejects callers the gate cannot reason about.
func (c Caller) Validate() error {
	if !c.Role.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnauthenticated, "unrecognized role")
	}
	if c.Role.RequiresHomeBase() && strings.TrimSpace(c.HomeBase) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthenticated, fmt.Sprintf("%s caller requires a home base", c.Role))
	}
	return nil
}

// Operation names a gated ledger command or query.
type Operation string

const (
	OpViewSummary    Operation = "view_summary"
	OpListAssets     Operation = "list_assets"
	OpCreateAsset    Operation = "create_asset"
	OpRecordPurchase Operation = "record_purchase"
	OpListPurchases  Operation = "list_purchases"
	OpTransfer       Operation = "transfer"
	OpListTransfers  Operation = "list_transfers"
	OpAssign         Operation = "assign"
	OpExpend         Operation = "expend"
	OpReverse        Operation = "reverse"
)

// Scope is the set of bases a role may touch for an operation.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeHome
	ScopeAny
)

type ruleKey struct {
	role enums.Role
	op   Operation
}

// rules mirrors the front-end's route gates: dashboards for everyone on their base,
// assets for admins and commanders, purchases and transfers for admins and logistics.
// Unlisted pairs resolve to ScopeNone.
var rules = map[ruleKey]Scope{
	{enums.RoleAdmin, OpViewSummary}:    ScopeAny,
	{enums.RoleAdmin, OpListAssets}:     ScopeAny,
	{enums.RoleAdmin, OpCreateAsset}:    ScopeAny,
	{enums.RoleAdmin, OpRecordPurchase}: ScopeAny,
	{enums.RoleAdmin, OpListPurchases}:  ScopeAny,
	{enums.RoleAdmin, OpTransfer}:       ScopeAny,
	{enums.RoleAdmin, OpListTransfers}:  ScopeAny,
	{enums.RoleAdmin, OpAssign}:         ScopeAny,
	{enums.RoleAdmin, OpExpend}:         ScopeAny,
	{enums.RoleAdmin, OpReverse}:        ScopeAny,

	{enums.RoleBaseCommander, OpViewSummary}: ScopeHome,
	{enums.RoleBaseCommander, OpListAssets}:  ScopeHome,
	{enums.RoleBaseCommander, OpCreateAsset}: ScopeHome,
	{enums.RoleBaseCommander, OpAssign}:      ScopeHome,
	{enums.RoleBaseCommander, OpExpend}:      ScopeHome,
	{enums.RoleBaseCommander, OpReverse}:     ScopeHome,

	{enums.RoleLogistics, OpViewSummary}:    ScopeHome,
	{enums.RoleLogistics, OpListAssets}:     ScopeHome,
	{enums.RoleLogistics, OpRecordPurchase}: ScopeHome,
	{enums.RoleLogistics, OpListPurchases}:  ScopeAny,
	{enums.RoleLogistics, OpTransfer}:       ScopeHome,
	{enums.RoleLogistics, OpListTransfers}:  ScopeAny,
}

// ScopeFor returns the base scope the caller's role has for op.
func ScopeFor(role enums.Role, op Operation) Scope {
	return rules[ruleKey{role: role, op: op}]
}

// Authorize admits the caller for op against base. An empty base asks whether the
// operation is permitted at all (any base in scope).
func Authorize(caller Caller, op Operation, base string) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	switch ScopeFor(caller.Role, op) {
	case ScopeAny:
		return nil
	case ScopeHome:
		if base == "" || sameBase(base, caller.HomeBase) {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s may only %s at %s", caller.Role, op, caller.HomeBase)).
			WithDetails(map[string]any{"base": base, "homeBase": caller.HomeBase})
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s may not %s", caller.Role, op))
	}
}

// CanDebit reports whether the caller may author a transfer out of base.
func CanDebit(caller Caller, base string) bool {
	if strings.TrimSpace(base) == "" {
		return false
	}
	return Authorize(caller, OpTransfer, base) == nil
}

// CanAdminister reports whether the caller has unrestricted authority.
func CanAdminister(caller Caller) bool {
	return caller.Validate() == nil && caller.Role == enums.RoleAdmin
}

// BaseSet is the set of bases a caller may read. All is true for unrestricted callers.
type BaseSet struct {
	All   bool
	Bases []string
}

// Contains reports whether base is visible.
func (s BaseSet) Contains(base string) bool {
	if s.All {
		return true
	}
	for _, candidate := range s.Bases {
		if sameBase(candidate, base) {
			return true
		}
	}
	return false
}

// VisibleBases returns the bases the caller may read ledger data for.
func VisibleBases(caller Caller) BaseSet {
	if caller.Validate() != nil {
		return BaseSet{}
	}
	if caller.Role == enums.RoleAdmin {
		return BaseSet{All: true}
	}
	return BaseSet{Bases: []string{caller.HomeBase}}
}

// VisibleFor narrows VisibleBases to what op allows; list operations granted
// ScopeAny see every base even when the caller has a home base.
func VisibleFor(caller Caller, op Operation) BaseSet {
	if caller.Validate() != nil {
		return BaseSet{}
	}
	switch ScopeFor(caller.Role, op) {
	case ScopeAny:
		return BaseSet{All: true}
	case ScopeHome:
		return BaseSet{Bases: []string{caller.HomeBase}}
	default:
		return BaseSet{}
	}
}

func sameBase(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
