package db

import (
	"fmt"
	"studiobook/util"
	"time"

	"github.com/shopspring/decimal"
)

// Share fields of all models: ID, create at and updated at timestamp
type Model struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DateCreated time.Time `gorm:"autoCreateTime" json:"date_created"`
	DateUpdated time.Time `gorm:"autoUpdateTime" json:"date_updated"`
}

// Now is the clock used by the model hooks. Tests replace it to pin dates.
var Now = func() time.Time {
	return time.Now().UTC()
}

// Enum defined
type Role string

type EventKind string

type BookingStatus string

type Weekday string

type PaymentStatus string

type NotificationSource string

// Constant defined
const (
	// User role
	Member     Role = "member"
	Instructor Role = "instructor"
	Staff      Role = "staff"

	// Event type code
	KindClass    EventKind = "CL"
	KindEvent    EventKind = "EV"
	KindRoomHire EventKind = "RH"

	// Booking status
	BookingOpen      BookingStatus = "OPEN"
	BookingCancelled BookingStatus = "CANCELLED"

	// Timetable days, sortable as strings
	Monday    Weekday = "01MON"
	Tuesday   Weekday = "02TUE"
	Wednesday Weekday = "03WED"
	Thursday  Weekday = "04THU"
	Friday    Weekday = "05FRI"
	Saturday  Weekday = "06SAT"
	Sunday    Weekday = "07SUN"

	// Gateway payment status, as PayPal spells them
	StatusCompleted PaymentStatus = "Completed"
	StatusRefunded  PaymentStatus = "Refunded"
	StatusPending   PaymentStatus = "Pending"

	// Notification source
	SourcePaypal NotificationSource = "paypal"
	SourceStripe NotificationSource = "stripe"

	// Identifier of the block type given away as a free class
	FreeClassIdentifier = "free class"
)

// Weekdays in timetable order
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Offset of the day from Monday
func (day Weekday) Offset() (int, error) {
	for i, d := range Weekdays {
		if d == day {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown timetable day: %s", day)
}

// User of the studio.
// Members book classes, buy blocks and tickets. Staff can use the admin endpoints.
type User struct {
	Model
	Username  string `gorm:"type:varchar(150);not null;uniqueIndex" json:"username"`
	Email     string `gorm:"type:varchar(254);not null;index" json:"email"`
	FirstName string `gorm:"type:varchar(30)" json:"first_name"`
	LastName  string `gorm:"type:varchar(30)" json:"last_name"`
	Password  string `gorm:"type:varchar(60);not null" json:"-"`
	Role      Role   `gorm:"type:varchar(20);not null" json:"role"`
}

func (user *User) FullName() string {
	if user.FirstName == "" && user.LastName == "" {
		return user.Username
	}
	return user.FirstName + " " + user.LastName
}

// EventType: class, event or room hire, with a free text subtype (e.g. "Pole level class")
type EventType struct {
	Model
	EventType EventKind `gorm:"type:varchar(2);not null" json:"event_type"`
	Subtype   string    `gorm:"type:varchar(255);not null" json:"subtype"`
}

func (et EventType) String() string {
	var kind string
	switch et.EventType {
	case KindClass:
		kind = "Class"
	case KindEvent:
		kind = "Event"
	case KindRoomHire:
		kind = "Room hire"
	default:
		kind = "Unknown"
	}
	return kind + " - " + et.Subtype
}

// Event: a dated class or one-off event that members book a space on.
// Payment policy rules (applied on every save):
// 1. cost = 0 turns off advance payment, payment open, payment due date and payment time allowed
// 2. payment_time_allowed (hours after booking to pay) implies advance payment required
// 3. events run by an external instructor can never be opened for booking or payment here
// max_participants = NULL means no limit. Events are cancelled with the flag, never deleted while booked.
type Event struct {
	Model
	Name                   string          `gorm:"type:varchar(255);not null;index" json:"name"`
	EventTypeID            uint            `gorm:"not null;index" json:"event_type_id"`
	Description            string          `gorm:"type:text" json:"description"`
	Date                   time.Time       `gorm:"not null;index" json:"date"`
	Location               string          `gorm:"type:varchar(255)" json:"location"`
	MaxParticipants        *int            `json:"max_participants"`
	Cost                   decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"cost"`
	AdvancePaymentRequired bool            `gorm:"not null" json:"advance_payment_required"`
	BookingOpen            bool            `gorm:"not null" json:"booking_open"`
	PaymentOpen            bool            `gorm:"not null" json:"payment_open"`
	PaymentInfo            string          `gorm:"type:text" json:"payment_info"`
	PaymentDueDate         *time.Time      `json:"payment_due_date"`
	PaymentTimeAllowed     *int            `json:"payment_time_allowed"` // In hours
	CancellationPeriod     int             `gorm:"not null" json:"cancellation_period"` // In hours
	ExternalInstructor     bool            `gorm:"not null" json:"external_instructor"`
	Cancelled              bool            `gorm:"not null;index" json:"cancelled"`
	PaypalEmail            string          `gorm:"type:varchar(254)" json:"paypal_email"`
	Slug                   string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`

	// Relationships
	EventType EventType `gorm:"foreignKey:EventTypeID" json:"event_type"`
	Bookings  []Booking `gorm:"foreignKey:EventID" json:"bookings,omitempty"`
}

func (event Event) String() string {
	return fmt.Sprintf("%s - %s", event.Name, event.Date.Format("02 Jan 2006, 15:04"))
}

// Payment information shown alongside the event
func (event *Event) PaymentText() string {
	if event.Cost.IsZero() {
		return "There is no cost associated with this event."
	}
	if !event.PaymentOpen {
		return "Payments are not yet open. Payment information will be provided closer to the event date."
	}
	return "Payments are open. " + event.PaymentInfo
}

// Booking: a user's reservation on one event, a user can only have one booking per event.
// Business rules:
// 1. An OPEN booking can't be created, or a CANCELLED one reopened, when the event is full
// 2. Reopening stamps date_rebooked
// 3. Free class bookings are always paid and confirmed
// 4. Cancelling a booking paid with a block gives the block use back: block is cleared, paid/confirmed reset
type Booking struct {
	Model
	UserID               uint          `gorm:"not null;uniqueIndex:idx_booking_user_event" json:"user_id"`
	EventID              uint          `gorm:"not null;uniqueIndex:idx_booking_user_event;index" json:"event_id"`
	Paid                 bool          `gorm:"not null" json:"paid"`
	PaymentConfirmed     bool          `gorm:"not null" json:"payment_confirmed"`
	DatePaymentConfirmed *time.Time    `json:"date_payment_confirmed"`
	Status               BookingStatus `gorm:"type:varchar(9);not null;index" json:"status"`
	FreeClass            bool          `gorm:"not null" json:"free_class"`
	DepositPaid          bool          `gorm:"not null" json:"deposit_paid"`
	BlockID              *uint         `gorm:"index" json:"block_id"`
	DateBooked           time.Time     `gorm:"not null" json:"date_booked"`
	DateRebooked         *time.Time    `json:"date_rebooked"`

	// Relationships
	User  User   `gorm:"foreignKey:UserID" json:"user"`
	Event Event  `gorm:"foreignKey:EventID" json:"event"`
	Block *Block `gorm:"foreignKey:BlockID" json:"block,omitempty"`
}

func (booking Booking) String() string {
	return fmt.Sprintf("%s - %s", booking.Event.Name, booking.User.Username)
}

// Whether the user's space is secured. Event must be loaded.
func (booking *Booking) SpaceConfirmed() bool {
	if booking.Status == BookingCancelled {
		return false
	}
	if !booking.Event.AdvancePaymentRequired || booking.Event.Cost.IsZero() {
		return true
	}
	return booking.PaymentConfirmed
}

// Mark the booking paid and confirmed. Caller saves.
func (booking *Booking) ConfirmSpace() {
	booking.Paid = true
	booking.PaymentConfirmed = true
}

// BlockType: what a block buys, e.g. 10 pole classes valid for 4 months
type BlockType struct {
	Model
	Identifier  string          `gorm:"type:varchar(255)" json:"identifier"`
	EventTypeID uint            `gorm:"not null;index" json:"event_type_id"`
	Size        int             `gorm:"not null" json:"size"`     // Number of bookings
	Duration    int             `gorm:"not null" json:"duration"` // In months
	Cost        decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"cost"`
	PaypalEmail string          `gorm:"type:varchar(254)" json:"paypal_email"`
	Active      bool            `gorm:"not null" json:"active"`

	// Relationships
	EventType EventType `gorm:"foreignKey:EventTypeID" json:"event_type"`
}

func (bt *BlockType) IsFreeClass() bool {
	return bt.Identifier == FreeClassIdentifier
}

// Block: a pre-paid bundle of BlockType.Size bookings, usable until its expiry date.
// Expiry date is never stored: it is start_date + duration months, at 23:59:59.
// A free class block created with a parent block shares the parent's dates.
type Block struct {
	Model
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	BlockTypeID uint      `gorm:"not null;index" json:"block_type_id"`
	StartDate   time.Time `gorm:"not null" json:"start_date"`
	Paid        bool      `gorm:"not null" json:"paid"`
	ParentID    *uint     `gorm:"index" json:"parent_id"`

	// Relationships
	User      User      `gorm:"foreignKey:UserID" json:"user"`
	BlockType BlockType `gorm:"foreignKey:BlockTypeID" json:"block_type"`
	Parent    *Block    `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Bookings  []Booking `gorm:"foreignKey:BlockID" json:"bookings,omitempty"`
}

// Expiry date of the block. BlockType, and Parent for a child block, must be loaded.
func (block *Block) ExpiryDate() time.Time {
	if block.Parent != nil && block.BlockType.IsFreeClass() {
		return block.Parent.ExpiryDate()
	}
	return util.EndOfDay(util.AddMonths(block.StartDate, block.BlockType.Duration))
}

func (block *Block) Expired(now time.Time) bool {
	return now.After(block.ExpiryDate())
}

// Full when the number of bookings made with the block reached the block size
func (block *Block) Full(bookingCount int64) bool {
	return bookingCount >= int64(block.BlockType.Size)
}

// A block can be used when it is paid, not expired and not full
func (block *Block) ActiveBlock(now time.Time, bookingCount int64) bool {
	return block.Paid && !block.Expired(now) && !block.Full(bookingCount)
}

func (block Block) String() string {
	name := block.BlockType.EventType.Subtype
	if block.BlockType.IsFreeClass() {
		name = block.BlockType.Identifier
	}
	return fmt.Sprintf(
		"%s -- %s -- size %d -- start %s",
		block.User.Username, name, block.BlockType.Size, block.StartDate.Format("02 Jan 2006"),
	)
}

// TicketedEvent: an event sold by ticket count instead of one booking per person.
// Payment policy follows Event, plus a payment due date also requires advance payment and is
// always moved to the end of its day.
type TicketedEvent struct {
	Model
	Name                   string          `gorm:"type:varchar(255);not null" json:"name"`
	Description            string          `gorm:"type:text" json:"description"`
	Date                   time.Time       `gorm:"not null;index" json:"date"`
	Location               string          `gorm:"type:varchar(255)" json:"location"`
	MaxTickets             *int            `json:"max_tickets"`
	TicketCost             decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"ticket_cost"`
	AdvancePaymentRequired bool            `gorm:"not null" json:"advance_payment_required"`
	PaymentOpen            bool            `gorm:"not null" json:"payment_open"`
	PaymentInfo            string          `gorm:"type:text" json:"payment_info"`
	PaymentDueDate         *time.Time      `json:"payment_due_date"`
	PaymentTimeAllowed     *int            `json:"payment_time_allowed"`
	PaypalEmail            string          `gorm:"type:varchar(254)" json:"paypal_email"`
	TicketPurchaseOpen     bool            `gorm:"not null" json:"ticket_purchase_open"`
	Cancelled              bool            `gorm:"not null" json:"cancelled"`
	Slug                   string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"slug"`

	// Relationships
	TicketBookings []TicketBooking `gorm:"foreignKey:TicketedEventID" json:"ticket_bookings,omitempty"`
}

func (te TicketedEvent) String() string {
	return fmt.Sprintf("%s - %s", te.Name, te.Date.Format("02 Jan 2006, 15:04"))
}

// TicketBooking groups the tickets one user bought for a ticketed event under one reference.
// Only purchase confirmed and not cancelled bookings count against max_tickets.
type TicketBooking struct {
	Model
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	TicketedEventID   uint      `gorm:"not null;index" json:"ticketed_event_id"`
	BookingReference  string    `gorm:"type:varchar(255);not null;index" json:"booking_reference"`
	DateBooked        time.Time `gorm:"not null" json:"date_booked"`
	Paid              bool      `gorm:"not null" json:"paid"`
	PurchaseConfirmed bool      `gorm:"not null" json:"purchase_confirmed"`
	Cancelled         bool      `gorm:"not null" json:"cancelled"`
	QRCodeURL         string    `gorm:"type:varchar(512)" json:"qr_code_url"`

	// Relationships
	User          User          `gorm:"foreignKey:UserID" json:"user"`
	TicketedEvent TicketedEvent `gorm:"foreignKey:TicketedEventID" json:"ticketed_event"`
	Tickets       []Ticket      `gorm:"foreignKey:TicketBookingID" json:"tickets,omitempty"`
}

func (tb TicketBooking) String() string {
	return fmt.Sprintf("Booking ref %s - %s - %s", tb.BookingReference, tb.TicketedEvent.Name, tb.User.Username)
}

// Ticket: one admission under a ticket booking
type Ticket struct {
	Model
	TicketBookingID uint `gorm:"not null;index" json:"ticket_booking_id"`

	// Relationships
	TicketBooking *TicketBooking `gorm:"foreignKey:TicketBookingID" json:"ticket_booking,omitempty"`
}

// Shared columns of the PayPal transaction tables.
// invoice_id is what we send to PayPal, transaction_id is what PayPal sends back once paid.
type PaymentTransaction struct {
	InvoiceID     string  `gorm:"type:varchar(255);not null;uniqueIndex" json:"invoice_id"`
	TransactionID *string `gorm:"type:varchar(255);uniqueIndex" json:"transaction_id"`
}

func (pt *PaymentTransaction) GetInvoiceID() string {
	return pt.InvoiceID
}

func (pt *PaymentTransaction) GetTransactionID() *string {
	return pt.TransactionID
}

func (pt *PaymentTransaction) SetTransactionID(id string) {
	pt.TransactionID = &id
}

type PaypalBookingTransaction struct {
	Model
	PaymentTransaction
	BookingID   uint    `gorm:"not null;index" json:"booking_id"`
	VoucherCode *string `gorm:"type:varchar(255)" json:"voucher_code"`

	// Relationships
	Booking Booking `gorm:"foreignKey:BookingID" json:"-"`
}

type PaypalBlockTransaction struct {
	Model
	PaymentTransaction
	BlockID uint `gorm:"not null;index" json:"block_id"`

	// Relationships
	Block Block `gorm:"foreignKey:BlockID" json:"-"`
}

type PaypalTicketBookingTransaction struct {
	Model
	PaymentTransaction
	TicketBookingID uint `gorm:"not null;index" json:"ticket_booking_id"`

	// Relationships
	TicketBooking TicketBooking `gorm:"foreignKey:TicketBookingID" json:"-"`
}

// Voucher: discount code. Users that paid with the code are linked to it.
type Voucher struct {
	Model
	Code       string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"code"`
	Discount   int        `gorm:"not null" json:"discount"` // In %
	StartDate  time.Time  `gorm:"not null" json:"start_date"`
	ExpiryDate *time.Time `json:"expiry_date"`
	MaxPerUser *int       `json:"max_per_user"`

	// Relationships
	Users []User `gorm:"many2many:voucher_users" json:"users,omitempty"`
}

func (voucher *Voucher) HasStarted(now time.Time) bool {
	return !voucher.StartDate.After(now)
}

func (voucher *Voucher) HasExpired(now time.Time) bool {
	return voucher.ExpiryDate != nil && voucher.ExpiryDate.Before(now)
}

// ActivityLog: free text audit trail of payments, cancellations and admin actions
type ActivityLog struct {
	Model
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Log       string    `gorm:"type:text;not null" json:"log"`
}

// PaymentNotification: every payment notification received, as received.
// A flagged notification failed verification (postback, receiver, duplicate txn id) and is never
// applied to the ledger.
type PaymentNotification struct {
	Model
	Source        NotificationSource `gorm:"type:varchar(10);not null" json:"source"`
	TxnID         string             `gorm:"type:varchar(255);index" json:"txn_id"`
	Invoice       string             `gorm:"type:varchar(255)" json:"invoice"`
	Custom        string             `gorm:"type:varchar(255)" json:"custom"`
	PaymentStatus PaymentStatus      `gorm:"type:varchar(20)" json:"payment_status"`
	ReceiverEmail string             `gorm:"type:varchar(254)" json:"receiver_email"`
	McGross       string             `gorm:"type:varchar(20)" json:"mc_gross"`
	Flag          bool               `gorm:"not null" json:"flag"`
	FlagInfo      string             `gorm:"type:text" json:"flag_info"`
	Query         string             `gorm:"type:text" json:"-"`
}

// Session: one slot of the weekly timetable. Events are created from sessions week by week.
type Session struct {
	Model
	Name                   string          `gorm:"type:varchar(255);not null" json:"name"`
	Day                    Weekday         `gorm:"type:varchar(5);not null" json:"day"`
	Time                   string          `gorm:"type:varchar(5);not null" json:"time"` // HH:MM
	EventTypeID            uint            `gorm:"not null" json:"event_type_id"`
	Description            string          `gorm:"type:text" json:"description"`
	Location               string          `gorm:"type:varchar(255)" json:"location"`
	MaxParticipants        *int            `json:"max_participants"`
	Cost                   decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"cost"`
	AdvancePaymentRequired bool            `gorm:"not null" json:"advance_payment_required"`
	BookingOpen            bool            `gorm:"not null" json:"booking_open"`
	PaymentOpen            bool            `gorm:"not null" json:"payment_open"`
	PaymentInfo            string          `gorm:"type:text" json:"payment_info"`
	PaymentTimeAllowed     *int            `json:"payment_time_allowed"`
	CancellationPeriod     int             `gorm:"not null" json:"cancellation_period"`
	ExternalInstructor     bool            `gorm:"not null" json:"external_instructor"`
	PaypalEmail            string          `gorm:"type:varchar(254)" json:"paypal_email"`

	// Relationships
	EventType EventType `gorm:"foreignKey:EventTypeID" json:"event_type"`
}

// Parse the HH:MM time of a session
func ParseSessionTime(value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session time %q: %w", value, err)
	}
	return t, nil
}

// All models, in migration order
func AllModels() []any {
	return []any{
		&User{}, &EventType{}, &Event{}, &BlockType{}, &Block{}, &Booking{},
		&TicketedEvent{}, &TicketBooking{}, &Ticket{},
		&PaypalBookingTransaction{}, &PaypalBlockTransaction{}, &PaypalTicketBookingTransaction{},
		&Voucher{}, &ActivityLog{}, &PaymentNotification{}, &Session{},
	}
}
