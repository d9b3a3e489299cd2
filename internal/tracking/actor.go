// Package tracking drives live rider location: the rider side publishes
// sampled fixes, the customer and restaurant sides follow them.
package tracking

const (
	StatusPending        string = "PENDING"
	StatusAccepted       string = "ACCEPTED"
	StatusPreparing      string = "PREPARING"
	StatusAssigned       string = "ASSIGNED"
	StatusOutForDelivery string = "OUT_FOR_DELIVERY"
	StatusDelivered      string = "DELIVERED"
	StatusCancelled      string = "CANCELLED"
	StatusRejected       string = "REJECTED"
)

var terminalStatuses = []string{StatusDelivered, StatusCancelled, StatusRejected}

// Actor configures the tracking components for one role. Path selects the
// relay endpoint, TrackStatus is the order status that opens tracking and
// Publishes marks the role that sends fixes.
type Actor struct {
	Name        string
	Path        string
	TrackStatus string
	Terminal    []string
	Publishes   bool
}

var (
	Customer   = Actor{Name: "customer", Path: "customer", TrackStatus: StatusOutForDelivery, Terminal: terminalStatuses}
	Restaurant = Actor{Name: "restaurant", Path: "restaurant", TrackStatus: StatusOutForDelivery, Terminal: terminalStatuses}
	Rider      = Actor{Name: "rider", Path: "rider", TrackStatus: StatusOutForDelivery, Terminal: terminalStatuses, Publishes: true}
)

// ActorByName returns one of the predefined actors.
func ActorByName(name string) (Actor, bool) {
	switch name {
	case Customer.Name:
		return Customer, true
	case Restaurant.Name:
		return Restaurant, true
	case Rider.Name:
		return Rider, true
	}
	return Actor{}, false
}

func (a Actor) Tracks(status string) bool {
	return status == a.TrackStatus
}

func (a Actor) IsTerminal(status string) bool {
	for _, s := range a.Terminal {
		if s == status {
			return true
		}
	}
	return false
}
