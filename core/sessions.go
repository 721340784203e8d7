package core

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// sessionStore persists a coordinator's session into the
// multisig_sessions table.
type sessionStore struct {
	db database.Database
}

// Save implements multisig.SessionStore. A finalized row is never
// overwritten.
func (s *sessionStore) Save(ctx context.Context, session *multisig.Session) error {
	rounds, err := json.Marshal(session.Rounds)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx database.Tx) error {
		var row models.MultisigSession
		if err := tx.Lock(&row, "escrow_id = ? AND role = ?", session.ID, session.Role); err != nil {
			return err
		}
		if row.Stage == multisig.Finalized.String() {
			return errors.ErrStateConflict.Newf("multisig session %s/%s is finalized", session.ID, session.Role)
		}
		row.Stage = session.Stage.String()
		row.Threshold = session.Threshold
		row.Participants = session.Participants
		row.PrepareInfo = string(session.PrepareInfo)
		row.MakeInfo = string(session.MakeInfo)
		row.MakeDigest = session.MakeDigest
		row.Rounds = rounds
		row.Address = session.Address
		row.UpdatedAt = time.Now()
		return tx.Save(&row)
	})
}

// toSession converts a stored row into a coordinator session.
func toSession(row *models.MultisigSession) (*multisig.Session, error) {
	stage, err := multisig.ParseStage(row.Stage)
	if err != nil {
		return nil, err
	}
	session := &multisig.Session{
		ID:           row.EscrowID.String(),
		Role:         string(row.Role),
		Stage:        stage,
		Threshold:    row.Threshold,
		Participants: row.Participants,
		PrepareInfo:  wallet.MultisigInfo(row.PrepareInfo),
		MakeInfo:     wallet.MultisigInfo(row.MakeInfo),
		MakeDigest:   row.MakeDigest,
		Address:      row.Address,
	}
	if len(row.Rounds) > 0 {
		if err := json.Unmarshal(row.Rounds, &session.Rounds); err != nil {
			return nil, errors.ErrValidation.Newf("multisig session %s/%s: corrupt rounds: %v", row.EscrowID, row.Role, err)
		}
	}
	return session, nil
}

func (n *EscrowNode) loadSession(id models.EscrowID, role models.Role) (*models.MultisigSession, error) {
	var row models.MultisigSession
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("escrow_id = ? AND role = ?", id, role).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrNotFound.Newf("multisig session %s/%s", id, role)
	} else if err != nil {
		return nil, err
	}
	return &row, nil
}

// participantClients returns the wallet client of every participant.
// Every session must be finalized.
func (n *EscrowNode) participantClients(id models.EscrowID) (map[models.Role]*wallet.Client, error) {
	clients := make(map[models.Role]*wallet.Client)
	for _, role := range models.Roles {
		row, err := n.loadSession(id, role)
		if err != nil {
			return nil, err
		}
		if row.Stage != multisig.Finalized.String() {
			return nil, errors.ErrStateConflict.Newf("multisig session %s/%s is %s", id, role, row.Stage)
		}
		client, err := n.pool.Get(row.WalletURL)
		if err != nil {
			return nil, err
		}
		clients[role] = client
	}
	return clients, nil
}
