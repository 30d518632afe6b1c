package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItineraryItem is one leg of a trip.
type ItineraryItem struct {
	ID            string    `json:"id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureDate time.Time `json:"departure_date"`
	ArrivalDate   time.Time `json:"arrival_date"`
	DSARegion     string    `json:"dsa_region,omitempty"`
	Overnight     bool      `json:"overnight_travel"`
	ModeOfTravel  string    `json:"mode_of_travel,omitempty"`
}

// Expense is a cost claimed for a trip.
type Expense struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Deduction reduces the daily allowance for provided meals or lodging.
type Deduction struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Breakfast     bool      `json:"breakfast"`
	Lunch         bool      `json:"lunch"`
	Dinner        bool      `json:"dinner"`
	Accommodation bool      `json:"accomodation"`
	NoDSA         bool      `json:"no_dsa"`
}

// CostAssignment charges a share of the trip to a funding source.
type CostAssignment struct {
	ID           string `json:"id"`
	WBS          string `json:"wbs"`
	Grant        string `json:"grant"`
	Fund         string `json:"fund"`
	Share        int    `json:"share"`
	BusinessArea string `json:"business_area,omitempty"`
}

// CostSummary holds derived trip costs.
type CostSummary struct {
	ExpensesTotal decimal.Decimal `json:"expenses_total"`
	DeductionDays int             `json:"deduction_days"`
}

// TravelActivity is work performed during the trip.
type TravelActivity struct {
	ID              string     `json:"id"`
	TravelType      string     `json:"travel_type"`
	PartnerID       string     `json:"partner,omitempty"`
	PartnershipID   string     `json:"partnership,omitempty"`
	Date            *time.Time `json:"date,omitempty"`
	PrimaryTraveler bool       `json:"is_primary_traveler"`
	Locations       []string   `json:"locations,omitempty"`
}

// Clearances tracks mandatory pre-travel checks.
type Clearances struct {
	Medical        string `json:"medical_clearance"`
	Security       string `json:"security_clearance"`
	SecurityCourse string `json:"security_course"`
}

// Travel is a trip authorization and its certification.
type Travel struct {
	Header
	Traveler            Person           `json:"traveler"`
	Supervisor          Person           `json:"supervisor"`
	Office              string           `json:"office,omitempty"`
	Section             string           `json:"section,omitempty"`
	Purpose             string           `json:"purpose"`
	StartDate           *time.Time       `json:"start_date,omitempty"`
	EndDate             *time.Time       `json:"end_date,omitempty"`
	InternationalTravel bool             `json:"international_travel"`
	TARequired          bool             `json:"ta_required"`
	EstimatedTravelCost decimal.Decimal  `json:"estimated_travel_cost"`
	Currency            string           `json:"currency"`
	Itinerary           []ItineraryItem  `json:"itinerary"`
	Expenses            []Expense        `json:"expenses"`
	Deductions          []Deduction      `json:"deductions"`
	CostAssignments     []CostAssignment `json:"cost_assignments"`
	CostSummary         CostSummary      `json:"cost_summary"`
	Clearances          Clearances       `json:"clearances"`
	Activities          []TravelActivity `json:"activities"`
	Report              string           `json:"report,omitempty"`
	RejectionNote       string           `json:"rejection_note,omitempty"`
	CancellationNote    string           `json:"cancellation_note,omitempty"`
	CertificationNote   string           `json:"certification_note,omitempty"`
}

// Kind implements Document.
func (*Travel) Kind() Kind { return KindTravel }

// Title implements Titled.
func (t *Travel) Title() string { return t.Purpose }

// ReferencePrefix implements Numbered.
func (*Travel) ReferencePrefix() string { return DefaultReferencePrefix(KindTravel) }

func (t *Travel) computedSummary() CostSummary {
	var s CostSummary
	for _, e := range t.Expenses {
		s.ExpensesTotal = s.ExpensesTotal.Add(e.Amount)
	}
	s.DeductionDays = len(t.Deductions)
	return s
}

// Recalculate implements Totaled.
func (t *Travel) Recalculate() { t.CostSummary = t.computedSummary() }

// TotalsErrors implements Totaled.
func (t *Travel) TotalsErrors() FieldErrors {
	errs := FieldErrors{}
	c := t.computedSummary()
	if !c.ExpensesTotal.Equal(t.CostSummary.ExpensesTotal) {
		errs.Add("cost_summary.expenses_total", "Total does not match the sum of expenses.")
	}
	if c.DeductionDays != t.CostSummary.DeductionDays {
		errs.Add("cost_summary.deduction_days", "Deduction days do not match the deductions.")
	}
	return errs
}

// SetTransitionComment implements Commented.
func (t *Travel) SetTransitionComment(field, comment string) error {
	switch field {
	case "rejection_note":
		t.RejectionNote = comment
	case "cancellation_note":
		t.CancellationNote = comment
	case "certification_note":
		t.CertificationNote = comment
	default:
		return unknownCommentField(t.Kind(), field)
	}
	return nil
}

// Recipients implements Addressable.
func (t *Travel) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientTraveler:
		return Emails([]Person{t.Traveler})
	case RecipientSupervisor:
		return Emails([]Person{t.Supervisor})
	}
	return nil
}

// AddItinerary appends a trip leg.
func (t *Travel) AddItinerary(it ItineraryItem) (ItineraryItem, error) {
	errs := FieldErrors{}
	if it.Origin == "" {
		errs.Add("itinerary.origin", "This field is required.")
	}
	if it.Destination == "" {
		errs.Add("itinerary.destination", "This field is required.")
	}
	if it.ArrivalDate.Before(it.DepartureDate) {
		errs.Add("itinerary.arrival_date", "Arrival must not precede departure.")
	}
	if !errs.Empty() {
		return ItineraryItem{}, ValidationFailed("add itinerary", errs)
	}
	ensureID(&it.ID)
	t.Itinerary = append(t.Itinerary, it)
	return it, nil
}

// AddExpense appends an expense and recomputes the cost summary.
func (t *Travel) AddExpense(e Expense) (Expense, error) {
	if e.Amount.IsNegative() {
		return Expense{}, ValidationFailed("add expense", FieldErrors{"expenses.amount": {"Amount must not be negative."}})
	}
	ensureID(&e.ID)
	t.Expenses = append(t.Expenses, e)
	t.Recalculate()
	return e, nil
}

// AddDeduction appends a deduction and recomputes the cost summary.
func (t *Travel) AddDeduction(d Deduction) (Deduction, error) {
	ensureID(&d.ID)
	t.Deductions = append(t.Deductions, d)
	t.Recalculate()
	return d, nil
}

// AddCostAssignment appends a cost assignment.
func (t *Travel) AddCostAssignment(c CostAssignment) (CostAssignment, error) {
	if c.Share <= 0 || c.Share > 100 {
		return CostAssignment{}, ValidationFailed("add cost assignment", FieldErrors{"cost_assignments.share": {"Share must be between 1 and 100."}})
	}
	ensureID(&c.ID)
	t.CostAssignments = append(t.CostAssignments, c)
	return c, nil
}

// AddActivity appends a travel activity.
func (t *Travel) AddActivity(a TravelActivity) (TravelActivity, error) {
	if a.TravelType == "" {
		return TravelActivity{}, ValidationFailed("add travel activity", FieldErrors{"activities.travel_type": {"This field is required."}})
	}
	ensureID(&a.ID)
	t.Activities = append(t.Activities, a)
	return a, nil
}
