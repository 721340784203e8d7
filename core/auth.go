package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
)

// Action is an escrow-mutating operation subject to authorization.
type Action string

const (
	ActionSetupMultisig Action = "setup_multisig"
	ActionFund          Action = "fund"
	ActionCheckFunding  Action = "check_funding"
	ActionShip          Action = "ship"
	ActionDispute       Action = "dispute"
	ActionConfirm       Action = "confirm_receipt"
	ActionRefund        Action = "refund"
	ActionCancel        Action = "cancel"
	ActionResolve       Action = "resolve_dispute"
)

// actionRoles lists the roles allowed to perform each action. Roles are
// always read from the stored escrow row, never from the request.
var actionRoles = map[Action][]models.Role{
	ActionSetupMultisig: {models.RoleBuyer, models.RoleVendor, models.RoleArbiter},
	ActionFund:          {models.RoleBuyer},
	ActionCheckFunding:  {models.RoleBuyer, models.RoleVendor, models.RoleArbiter},
	ActionShip:          {models.RoleVendor},
	ActionDispute:       {models.RoleBuyer},
	ActionConfirm:       {models.RoleBuyer},
	ActionRefund:        {models.RoleVendor, models.RoleArbiter},
	ActionCancel:        {models.RoleBuyer},
	ActionResolve:       {models.RoleArbiter},
}

// authorize resolves the caller and checks that they hold one of the
// roles allowed to perform action on escrow.
func (n *EscrowNode) authorize(ctx context.Context, escrow *models.Escrow, action Action) (models.UserID, models.Role, error) {
	caller, ok := n.identity(ctx)
	if !ok {
		return "", "", errors.ErrAuthorization.Newf("%s: caller is not authenticated", action)
	}
	role, ok := escrow.RoleOf(caller)
	if !ok {
		return "", "", errors.ErrAuthorization.Newf("%s: %s is not a party to escrow %s", action, caller, escrow.ID)
	}
	for _, allowed := range actionRoles[action] {
		if role == allowed {
			return caller, role, nil
		}
	}
	return "", "", errors.ErrAuthorization.Newf("%s: not allowed for the %s of escrow %s", action, role, escrow.ID)
}

// authorizeRole checks that the caller holds exactly role on escrow.
func (n *EscrowNode) authorizeRole(ctx context.Context, escrow *models.Escrow, role models.Role) (models.UserID, error) {
	caller, ok := n.identity(ctx)
	if !ok {
		return "", errors.ErrAuthorization.New("caller is not authenticated")
	}
	if !role.Valid() {
		return "", errors.ErrValidation.Newf("unknown role %q", role)
	}
	if escrow.PartyID(role) != caller {
		return "", errors.ErrAuthorization.Newf("%s is not the %s of escrow %s", caller, role, escrow.ID)
	}
	return caller, nil
}
