// Package state persists the pool record: network topology ids, the active
// unit list and the last known status of every unit the pool has created.
// The record is always written whole.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// ErrNotFound is returned by Load when no record exists.
var ErrNotFound = errors.New("state: no saved state")

// UnitMeta is the bookkeeping kept for a unit besides its status.
type UnitMeta struct {
	Blocksize float64   `json:"blocksize"`
	CreatedAt time.Time `json:"createdAt"`
	Label     string    `json:"label,omitempty"`
	// FinishedAt is set when the unit first reaches a terminal status.
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Document is the persisted pool record.
type Document struct {
	VPCID           string   `json:"vpcID"`
	GatewayID       string   `json:"igwID"`
	RouteTableID    string   `json:"routeTableID"`
	SubnetIDs       []string `json:"snIDs"`
	SecurityGroupID string   `json:"sgID"`

	// Instances is the ordered list of active unit ids, oldest first.
	Instances []string `json:"instances"`
	// InstanceState is the last known status of every unit, active or not.
	InstanceState map[string]types.Status `json:"instanceState"`
	Units         map[string]UnitMeta     `json:"units,omitempty"`
}

// Topology returns the network ids recorded in the document.
func (d *Document) Topology() types.Topology {
	return types.Topology{
		VPCID:           d.VPCID,
		GatewayID:       d.GatewayID,
		RouteTableID:    d.RouteTableID,
		SubnetIDs:       append([]string(nil), d.SubnetIDs...),
		SecurityGroupID: d.SecurityGroupID,
	}
}

// SetTopology records the network ids of t.
func (d *Document) SetTopology(t types.Topology) {
	d.VPCID = t.VPCID
	d.GatewayID = t.GatewayID
	d.RouteTableID = t.RouteTableID
	d.SubnetIDs = append([]string(nil), t.SubnetIDs...)
	d.SecurityGroupID = t.SecurityGroupID
}

// Store loads and saves the pool record.
type Store interface {
	// Load returns ErrNotFound when nothing has been saved.
	Load(ctx context.Context) (*Document, error)
	// Save replaces the record. Readers see either the previous or the new
	// record, never a mix.
	Save(ctx context.Context, doc *Document) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context) error
	// Location describes where the record lives, for logs.
	Location() string
}
