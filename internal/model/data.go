package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntityType enumerates record kinds carried in the export snapshot.
type EntityType string

const (
	EntityFamilyMember EntityType = "familyMember"
	EntityAccount      EntityType = "account"
	EntityTransaction  EntityType = "transaction"
	EntityAsset        EntityType = "asset"
	EntityGoal         EntityType = "goal"
	EntityRecurring    EntityType = "recurring"
	EntityTodo         EntityType = "todo"
	EntityActivity     EntityType = "activity"
	EntityBudget       EntityType = "budget"
	EntitySettings     EntityType = "settings"
)

// Entity is implemented by every record in the export snapshot. UpdatedAt is
// advanced by whichever replica edits the record and drives merge decisions.
type Entity interface {
	EntityID() uuid.UUID
	ModifiedAt() time.Time
}

// FamilyMember represents one member of the family.
type FamilyMember struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	Color     string    `json:"color,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m FamilyMember) EntityID() uuid.UUID   { return m.ID }
func (m FamilyMember) ModifiedAt() time.Time { return m.UpdatedAt }

// Account represents a money account (checking, savings, cash, card).
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type,omitempty"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	OwnerID   uuid.UUID       `json:"ownerId,omitempty"`
	Archived  bool            `json:"archived,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (a Account) EntityID() uuid.UUID   { return a.ID }
func (a Account) ModifiedAt() time.Time { return a.UpdatedAt }

// Transaction represents a single income or expense entry.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	AccountID uuid.UUID       `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Category  string          `json:"category,omitempty"`
	Note      string          `json:"note,omitempty"`
	Date      time.Time       `json:"date"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (t Transaction) EntityID() uuid.UUID   { return t.ID }
func (t Transaction) ModifiedAt() time.Time { return t.UpdatedAt }

// Asset represents a valued possession (property, vehicle, investment).
type Asset struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Value     decimal.Decimal `json:"value"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (a Asset) EntityID() uuid.UUID   { return a.ID }
func (a Asset) ModifiedAt() time.Time { return a.UpdatedAt }

// Goal represents a savings goal.
type Goal struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Target    decimal.Decimal `json:"target"`
	Saved     decimal.Decimal `json:"saved"`
	DueDate   *time.Time      `json:"dueDate,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (g Goal) EntityID() uuid.UUID   { return g.ID }
func (g Goal) ModifiedAt() time.Time { return g.UpdatedAt }

// RecurringItem represents a repeating income or expense template.
type RecurringItem struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Interval  string          `json:"interval"`
	NextDate  time.Time       `json:"nextDate"`
	AccountID uuid.UUID       `json:"accountId,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (r RecurringItem) EntityID() uuid.UUID   { return r.ID }
func (r RecurringItem) ModifiedAt() time.Time { return r.UpdatedAt }

// Todo represents a shared family task.
type Todo struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Done       bool      `json:"done"`
	AssigneeID uuid.UUID `json:"assigneeId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (t Todo) EntityID() uuid.UUID   { return t.ID }
func (t Todo) ModifiedAt() time.Time { return t.UpdatedAt }

// Activity represents an audit log entry of a member action.
type Activity struct {
	ID         uuid.UUID `json:"id"`
	MemberID   uuid.UUID `json:"memberId,omitempty"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (a Activity) EntityID() uuid.UUID   { return a.ID }
func (a Activity) ModifiedAt() time.Time { return a.UpdatedAt }

// Budget represents a per-category monthly spending limit.
type Budget struct {
	ID        uuid.UUID       `json:"id"`
	Category  string          `json:"category"`
	Limit     decimal.Decimal `json:"limit"`
	Month     string          `json:"month"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (b Budget) EntityID() uuid.UUID   { return b.ID }
func (b Budget) ModifiedAt() time.Time { return b.UpdatedAt }

// ExportedData is the full snapshot of one family's data. Collections keep
// insertion order; each record carries a stable ID and UpdatedAt.
type ExportedData struct {
	FamilyMembers  []FamilyMember  `json:"familyMembers"`
	Accounts       []Account       `json:"accounts"`
	Transactions   []Transaction   `json:"transactions"`
	Assets         []Asset         `json:"assets"`
	Goals          []Goal          `json:"goals"`
	RecurringItems []RecurringItem `json:"recurringItems"`
	Todos          []Todo          `json:"todos"`
	Activities     []Activity      `json:"activities"`
	Budgets        []Budget        `json:"budgets"`
	Settings       *Settings       `json:"settings,omitempty"`

	// Tombstones is the deletion log carried with the snapshot so that
	// deletions propagate to replicas that still hold the old records.
	Tombstones []Tombstone `json:"tombstones,omitempty"`
}

// Tombstone records that an entity was deleted at a given time. It is the
// only mechanism by which a deletion propagates to a replica that still
// holds the old record.
type Tombstone struct {
	ID         uuid.UUID  `json:"id"`
	EntityType EntityType `json:"entityType"`
	DeletedAt  time.Time  `json:"deletedAt"`
}
