package types

import "time"

// Unit is one provisioned compute resource (VM instance or scheduler job).
type Unit struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Blocksize float64   `json:"blocksize"`
	CreatedAt time.Time `json:"createdAt"`
	Label     string    `json:"label,omitempty"`
}

// Topology is the network scaffolding shared by VM-backed units.
type Topology struct {
	VPCID           string   `json:"vpcID,omitempty"`
	GatewayID       string   `json:"gatewayID,omitempty"`
	RouteTableID    string   `json:"routeTableID,omitempty"`
	SubnetIDs       []string `json:"subnetIDs,omitempty"`
	SecurityGroupID string   `json:"securityGroupID,omitempty"`
}

// PoolSummary is a point-in-time view of a pool manager.
type PoolSummary struct {
	Backend   string   `json:"backend"`
	Topology  Topology `json:"topology"`
	Units     []Unit   `json:"units"`
	Blocksize int      `json:"blocksize"`
	MaxNodes  int      `json:"maxNodes"`
}

// ScaleRequest is the request body for scale-out and scale-in.
type ScaleRequest struct {
	Blocks int `json:"blocks"`
}

// ScaleResponse reports how many units a scale call started or stopped.
type ScaleResponse struct {
	Units     int `json:"units"`
	Blocksize int `json:"blocksize"`
}

// SubmitRequest is the request body for submitting a batch job.
type SubmitRequest struct {
	Command   string  `json:"command"`
	Blocksize float64 `json:"blocksize"`
	Label     string  `json:"label,omitempty"`
}

// SubmitResponse carries the backend job id. An empty id means the pool
// was at capacity or the scheduler did not accept the job.
type SubmitResponse struct {
	ID string `json:"id"`
}

// IDsRequest is the request body for cancel and status.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// CancelResponse holds one flag per requested id, in request order.
type CancelResponse struct {
	Cancelled []bool `json:"cancelled"`
}

// StatusResponse holds one status per requested id, in request order.
type StatusResponse struct {
	Statuses []Status `json:"statuses"`
}

// Empty reports whether no network resource has been recorded.
func (t Topology) Empty() bool {
	return t.VPCID == "" && t.GatewayID == "" && t.RouteTableID == "" &&
		len(t.SubnetIDs) == 0 && t.SecurityGroupID == ""
}

// Complete reports whether every network resource has been recorded.
func (t Topology) Complete() bool {
	return t.VPCID != "" && t.GatewayID != "" && t.RouteTableID != "" &&
		len(t.SubnetIDs) > 0 && t.SecurityGroupID != ""
}
