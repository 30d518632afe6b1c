package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InterventionType is the programme document sub-type.
type InterventionType string

// Intervention document types.
const (
	InterventionPD  InterventionType = "PD"
	InterventionSPD InterventionType = "SPD"
)

// RiskType classifies an intervention risk.
type RiskType string

// Risk types.
const (
	RiskProgrammatic         RiskType = "programmatic"
	RiskFinancial            RiskType = "financial"
	RiskOperational          RiskType = "operational"
	RiskSocialEnvironmental  RiskType = "social_environmental"
	RiskSafeguardingExposure RiskType = "safeguarding"
)

// Risk is a mitigated risk statement.
type Risk struct {
	ID                 string   `json:"id"`
	RiskType           RiskType `json:"risk_type"`
	MitigationMeasures string   `json:"mitigation_measures"`
}

func (r Risk) validate() FieldErrors {
	errs := FieldErrors{}
	switch r.RiskType {
	case RiskProgrammatic, RiskFinancial, RiskOperational, RiskSocialEnvironmental, RiskSafeguardingExposure:
	default:
		errs.Add("risks.risk_type", fmt.Sprintf("%q is not a valid risk type.", r.RiskType))
	}
	if r.MitigationMeasures == "" {
		errs.Add("risks.mitigation_measures", "This field is required.")
	}
	return errs
}

// ResultLink ties the intervention to a country programme output.
type ResultLink struct {
	ID            string   `json:"id"`
	CPOutput      string   `json:"cp_output"`
	RAMIndicators []string `json:"ram_indicators,omitempty"`
}

// Activity groups the priced items delivering a result.
type Activity struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Items []LineItem `json:"items"`
}

// PlannedVisit is the programmatic visit plan for a year.
type PlannedVisit struct {
	ID    string   `json:"id"`
	Year  int      `json:"year"`
	Q1    int      `json:"programmatic_q1"`
	Q2    int      `json:"programmatic_q2"`
	Q3    int      `json:"programmatic_q3"`
	Q4    int      `json:"programmatic_q4"`
	Sites []string `json:"sites,omitempty"`
}

// ReportingRequirement schedules a partner report.
type ReportingRequirement struct {
	ID         string    `json:"id"`
	ReportType string    `json:"report_type"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	DueDate    time.Time `json:"due_date"`
}

// FundsReservation is a financial commitment backing the intervention.
type FundsReservation struct {
	ID        string          `json:"id"`
	Number    string          `json:"fr_number"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

// Intervention is a programme document implemented under an agreement.
type Intervention struct {
	Header
	DocumentType          InterventionType       `json:"document_type"`
	TitleText             string                 `json:"title"`
	AgreementID           string                 `json:"agreement"`
	CountryProgrammeID    string                 `json:"country_programme,omitempty"`
	Start                 *time.Time             `json:"start,omitempty"`
	End                   *time.Time             `json:"end,omitempty"`
	SubmissionDate        *time.Time             `json:"submission_date,omitempty"`
	SignedByUnicefDate    *time.Time             `json:"signed_by_unicef_date,omitempty"`
	SignedByPartnerDate   *time.Time             `json:"signed_by_partner_date,omitempty"`
	DateSentToPartner     *time.Time             `json:"date_sent_to_partner,omitempty"`
	UnicefFocalPoints     []Person               `json:"unicef_focal_points"`
	PartnerFocalPoints    []Person               `json:"partner_focal_points"`
	Sections              []string               `json:"sections"`
	Offices               []string               `json:"offices"`
	ResultLinks           []ResultLink           `json:"result_links"`
	Activities            []Activity             `json:"activities"`
	ManagementBudget      []LineItem             `json:"management_budget"`
	SupplyItems           []LineItem             `json:"supply_items"`
	PlannedBudget         Budget                 `json:"planned_budget"`
	FundsReservations     []FundsReservation     `json:"funds_reservations"`
	PlannedVisits         []PlannedVisit         `json:"planned_visits"`
	ReportingRequirements []ReportingRequirement `json:"reporting_requirements"`
	Risks                 []Risk                 `json:"risks"`
	Reviews               []Review               `json:"reviews"`
	Amendments            []Amendment            `json:"amendments"`
	CancelJustification   string                 `json:"cancel_justification,omitempty"`
	SendBackComment       string                 `json:"send_back_comment,omitempty"`
}

// Kind implements Document.
func (*Intervention) Kind() Kind { return KindIntervention }

// Title implements Titled.
func (i *Intervention) Title() string { return i.TitleText }

// ReferencePrefix implements Numbered.
func (i *Intervention) ReferencePrefix() string {
	if i.DocumentType == "" {
		return string(InterventionPD)
	}
	return string(i.DocumentType)
}

// SignedDate is the later of both signatures, or nil until both exist.
func (i *Intervention) SignedDate() *time.Time {
	return laterOf(i.SignedByUnicefDate, i.SignedByPartnerDate)
}

// Signed reports whether the intervention has left its pre-signature statuses.
func (i *Intervention) Signed() bool {
	switch i.Status {
	case StatusDevelopment, StatusDraft, StatusReview, StatusCancelled:
		return false
	}
	return true
}

// StampDate implements DateStamper.
func (i *Intervention) StampDate(field string, at time.Time) error {
	switch field {
	case "submission_date":
		stamp(&i.SubmissionDate, at)
	case "date_sent_to_partner":
		stamp(&i.DateSentToPartner, at)
	default:
		return unknownDateField(i.Kind(), field)
	}
	return nil
}

// SetTransitionComment implements Commented.
func (i *Intervention) SetTransitionComment(field, comment string) error {
	switch field {
	case "cancel_justification":
		i.CancelJustification = comment
	case "send_back_comment":
		i.SendBackComment = comment
	default:
		return unknownCommentField(i.Kind(), field)
	}
	return nil
}

// Recipients implements Addressable.
func (i *Intervention) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientUnicefFocalPoints:
		return Emails(i.UnicefFocalPoints)
	case RecipientPartnerFocalPoints:
		return Emails(i.PartnerFocalPoints)
	}
	return nil
}

func (i *Intervention) computedBudget() Budget {
	groups := [][]LineItem{i.ManagementBudget, i.SupplyItems}
	for _, a := range i.Activities {
		groups = append(groups, a.Items)
	}
	b := sumItems(groups...)
	b.Currency = i.PlannedBudget.Currency
	return b
}

// Recalculate implements Totaled.
func (i *Intervention) Recalculate() {
	i.PlannedBudget = i.computedBudget()
}

// TotalsErrors implements Totaled.
func (i *Intervention) TotalsErrors() FieldErrors {
	errs := compareBudget("planned_budget", i.PlannedBudget, i.computedBudget())
	for _, a := range i.Activities {
		for _, it := range a.Items {
			errs.Merge(it.Validate("activities.items"))
		}
	}
	for _, it := range i.ManagementBudget {
		errs.Merge(it.Validate("management_budget"))
	}
	for _, it := range i.SupplyItems {
		errs.Merge(it.Validate("supply_items"))
	}
	return errs
}

// ActiveReview returns the latest review for the original document.
func (i *Intervention) ActiveReview() (Review, bool) {
	return reviewList{items: &i.Reviews}.active("")
}

// OpenReview starts a review for the document or one of its amendments.
func (i *Intervention) OpenReview(amendmentID string, reviewType ReviewType) (Review, error) {
	if amendmentID != "" {
		if _, ok := findAmendment(i.Amendments, amendmentID); !ok {
			return Review{}, ChildNotFound("open review", "amendment", amendmentID)
		}
	}
	return reviewList{items: &i.Reviews}.open(amendmentID, reviewType)
}

// UpdateReview edits a review that has no overall approval yet.
func (i *Intervention) UpdateReview(id string, fn func(*Review) error) (Review, error) {
	return reviewList{items: &i.Reviews}.update(id, fn)
}

func (i *Intervention) amendments() amendmentList {
	return amendmentList{kind: KindIntervention, items: &i.Amendments, signed: i.SignedDate()}
}

// AddAmendment appends an amendment.
func (i *Intervention) AddAmendment(a Amendment) (Amendment, error) { return i.amendments().add(a) }

// UpdateAmendment edits an unsigned amendment.
func (i *Intervention) UpdateAmendment(id string, fn func(*Amendment) error) (Amendment, error) {
	return i.amendments().update(id, fn)
}

// DeleteAmendment removes an unsigned amendment.
func (i *Intervention) DeleteAmendment(id string) error { return i.amendments().remove(id) }

func (i *Intervention) itemGroup(group string, activityID string) (*[]LineItem, error) {
	switch group {
	case "management_budget":
		return &i.ManagementBudget, nil
	case "supply_items":
		return &i.SupplyItems, nil
	case "activities.items":
		idx := indexByID(i.Activities, activityID, func(a *Activity) string { return a.ID })
		if idx < 0 {
			return nil, ChildNotFound("item group", "activity", activityID)
		}
		return &i.Activities[idx].Items, nil
	}
	return nil, UnknownSubject("item group", fmt.Sprintf("intervention has no item group %q", group))
}

// AddActivity appends an activity and recomputes totals.
func (i *Intervention) AddActivity(a Activity) (Activity, error) {
	ensureID(&a.ID)
	if a.Name == "" {
		return Activity{}, ValidationFailed("add activity", FieldErrors{"activities.name": {"This field is required."}})
	}
	for idx := range a.Items {
		ensureID(&a.Items[idx].ID)
		if errs := a.Items[idx].Validate("activities.items"); !errs.Empty() {
			return Activity{}, ValidationFailed("add activity", errs)
		}
	}
	i.Activities = append(i.Activities, a)
	i.Recalculate()
	return a, nil
}

// RemoveActivity drops an activity and its items.
func (i *Intervention) RemoveActivity(id string) error {
	idx := indexByID(i.Activities, id, func(a *Activity) string { return a.ID })
	if idx < 0 {
		return ChildNotFound("remove activity", "activity", id)
	}
	i.Activities = removeAt(i.Activities, idx)
	i.Recalculate()
	return nil
}

// AddItem appends an item to group and recomputes totals. activityID is
// required for the "activities.items" group only.
func (i *Intervention) AddItem(group, activityID string, item LineItem) (LineItem, error) {
	items, err := i.itemGroup(group, activityID)
	if err != nil {
		return LineItem{}, err
	}
	out, err := addLineItem(items, item)
	if err != nil {
		return LineItem{}, err
	}
	i.Recalculate()
	return out, nil
}

// UpdateItem edits an item in group and recomputes totals.
func (i *Intervention) UpdateItem(group, activityID, id string, fn func(*LineItem) error) (LineItem, error) {
	items, err := i.itemGroup(group, activityID)
	if err != nil {
		return LineItem{}, err
	}
	out, err := updateLineItem(items, id, fn)
	if err != nil {
		return LineItem{}, err
	}
	i.Recalculate()
	return out, nil
}

// RemoveItem deletes an item from group and recomputes totals.
func (i *Intervention) RemoveItem(group, activityID, id string) error {
	items, err := i.itemGroup(group, activityID)
	if err != nil {
		return err
	}
	if err := removeLineItem(items, id); err != nil {
		return err
	}
	i.Recalculate()
	return nil
}

// RequireUnsigned fails with Integrity once the intervention is signed.
func (i *Intervention) RequireUnsigned(op string) error {
	if i.Signed() {
		return Integrity(op, fmt.Sprintf("Cannot modify a %s intervention", i.Status))
	}
	return nil
}

// AddPlannedVisit appends a planned visit before signature.
func (i *Intervention) AddPlannedVisit(v PlannedVisit) (PlannedVisit, error) {
	if err := i.RequireUnsigned("add planned visit"); err != nil {
		return PlannedVisit{}, err
	}
	for _, existing := range i.PlannedVisits {
		if existing.Year == v.Year {
			return PlannedVisit{}, ValidationFailed("add planned visit", FieldErrors{"planned_visits.year": {"Planned visits for this year already exist."}})
		}
	}
	ensureID(&v.ID)
	i.PlannedVisits = append(i.PlannedVisits, v)
	return v, nil
}

// DeletePlannedVisit removes a planned visit before signature.
func (i *Intervention) DeletePlannedVisit(id string) error {
	if err := i.RequireUnsigned("delete planned visit"); err != nil {
		return err
	}
	idx := indexByID(i.PlannedVisits, id, func(v *PlannedVisit) string { return v.ID })
	if idx < 0 {
		return ChildNotFound("delete planned visit", "planned visit", id)
	}
	i.PlannedVisits = removeAt(i.PlannedVisits, idx)
	return nil
}

// AddReportingRequirement schedules a report before signature.
func (i *Intervention) AddReportingRequirement(r ReportingRequirement) (ReportingRequirement, error) {
	if err := i.RequireUnsigned("add reporting requirement"); err != nil {
		return ReportingRequirement{}, err
	}
	errs := FieldErrors{}
	if r.ReportType == "" {
		errs.Add("reporting_requirements.report_type", "This field is required.")
	}
	if r.EndDate.Before(r.StartDate) {
		errs.Add("reporting_requirements.end_date", "End date must not precede start date.")
	}
	if r.DueDate.Before(r.EndDate) {
		errs.Add("reporting_requirements.due_date", "Due date must not precede end date.")
	}
	if !errs.Empty() {
		return ReportingRequirement{}, ValidationFailed("add reporting requirement", errs)
	}
	ensureID(&r.ID)
	i.ReportingRequirements = append(i.ReportingRequirements, r)
	return r, nil
}

// DeleteReportingRequirement removes a reporting requirement before signature.
func (i *Intervention) DeleteReportingRequirement(id string) error {
	if err := i.RequireUnsigned("delete reporting requirement"); err != nil {
		return err
	}
	idx := indexByID(i.ReportingRequirements, id, func(r *ReportingRequirement) string { return r.ID })
	if idx < 0 {
		return ChildNotFound("delete reporting requirement", "reporting requirement", id)
	}
	i.ReportingRequirements = removeAt(i.ReportingRequirements, idx)
	return nil
}

// AddRisk appends a risk before signature.
func (i *Intervention) AddRisk(r Risk) (Risk, error) {
	if err := i.RequireUnsigned("add risk"); err != nil {
		return Risk{}, err
	}
	if errs := r.validate(); !errs.Empty() {
		return Risk{}, ValidationFailed("add risk", errs)
	}
	ensureID(&r.ID)
	i.Risks = append(i.Risks, r)
	return r, nil
}

// UpdateRisk edits a risk before signature.
func (i *Intervention) UpdateRisk(id string, fn func(*Risk) error) (Risk, error) {
	if err := i.RequireUnsigned("update risk"); err != nil {
		return Risk{}, err
	}
	idx := indexByID(i.Risks, id, func(r *Risk) string { return r.ID })
	if idx < 0 {
		return Risk{}, ChildNotFound("update risk", "risk", id)
	}
	cp := i.Risks[idx]
	if err := fn(&cp); err != nil {
		return Risk{}, err
	}
	cp.ID = id
	if errs := cp.validate(); !errs.Empty() {
		return Risk{}, ValidationFailed("update risk", errs)
	}
	i.Risks[idx] = cp
	return cp, nil
}

// DeleteRisk removes a risk before signature.
func (i *Intervention) DeleteRisk(id string) error {
	if err := i.RequireUnsigned("delete risk"); err != nil {
		return err
	}
	idx := indexByID(i.Risks, id, func(r *Risk) string { return r.ID })
	if idx < 0 {
		return ChildNotFound("delete risk", "risk", id)
	}
	i.Risks = removeAt(i.Risks, idx)
	return nil
}

// AddFundsReservation links a funds reservation.
func (i *Intervention) AddFundsReservation(fr FundsReservation) (FundsReservation, error) {
	if fr.Number == "" {
		return FundsReservation{}, ValidationFailed("add funds reservation", FieldErrors{"funds_reservations.fr_number": {"This field is required."}})
	}
	for _, existing := range i.FundsReservations {
		if existing.Number == fr.Number {
			return FundsReservation{}, Integrity("add funds reservation", fmt.Sprintf("Funds reservation %s is already linked", fr.Number))
		}
	}
	ensureID(&fr.ID)
	i.FundsReservations = append(i.FundsReservations, fr)
	return fr, nil
}

func laterOf(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if a.After(*b) {
		return a
	}
	return b
}
