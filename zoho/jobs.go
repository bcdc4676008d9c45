package zoho

import (
	"github.com/teranos/zbulk/errors"
	"github.com/teranos/zbulk/profile"
	"github.com/teranos/zbulk/pulse/bulk"
)

// RecordHandlers is the catalogue of bulk job types, one create-style call
// per item
var RecordHandlers = []RecordHandler{
	// Inventory
	{JobType: "inventory.contacts.create", Product: "inventory", Path: "/contacts",
		Required: []string{"contact_name"}, Identifier: "contact_name", IDFields: []string{"contact_id"},
		Summary: "Create Inventory contacts"},
	{JobType: "inventory.items.create", Product: "inventory", Path: "/items",
		Required: []string{"name"}, Identifier: "name", IDFields: []string{"item_id"},
		Summary: "Create Inventory items"},
	{JobType: "inventory.custom_module.create", Product: "inventory", Path: "/cm_{module}",
		Identifier: "record_name", IDFields: []string{"module_record_id"},
		Summary: "Create records in an Inventory custom module (param: module)"},

	// Books
	{JobType: "books.contacts.create", Product: "books", Path: "/contacts",
		Required: []string{"contact_name"}, Identifier: "contact_name", IDFields: []string{"contact_id"},
		Summary: "Create Books contacts"},
	{JobType: "books.invoices.create", Product: "books", Path: "/invoices",
		Required: []string{"customer_id"}, Identifier: "reference_number", IDFields: []string{"invoice_id"},
		ExtraParams: []string{"send", "ignore_auto_number_generation"},
		Summary:     "Create Books invoices"},

	// Billing
	{JobType: "billing.customers.create", Product: "billing", Path: "/customers",
		Required: []string{"display_name", "email"}, Identifier: "email", IDFields: []string{"customer_id"},
		Summary: "Create Billing customers"},
	{JobType: "billing.subscriptions.create", Product: "billing", Path: "/subscriptions",
		Required: []string{"customer_id"}, Identifier: "reference_id", IDFields: []string{"subscription_id"},
		Summary: "Create Billing subscriptions"},

	// Desk
	{JobType: "desk.tickets.create", Product: "desk", Path: "/tickets",
		Required: []string{"subject", "departmentId"}, Identifier: "email",
		Summary: "Create Desk tickets"},
	{JobType: "desk.contacts.create", Product: "desk", Path: "/contacts",
		Required: []string{"lastName"}, Identifier: "email",
		Summary: "Create Desk contacts"},

	// Projects
	{JobType: "projects.tasks.create", Product: "projects", Path: "/portal/{portal}/projects/{project_id}/tasks",
		Required: []string{"name"}, Identifier: "name",
		Summary: "Create Projects tasks (profile param: portal)"},

	// People
	{JobType: "people.forms.insert", Product: "people", Path: "/forms/json/{form}/insertRecord",
		Encoding: EncodeFormJSON, FormField: "inputData", Identifier: "EmailID", IDFields: []string{"pkId"},
		Summary: "Insert People form records (param: form)"},

	// Creator
	{JobType: "creator.records.add", Product: "creator", Path: "/data/{owner}/{app}/form/{form}",
		Wrapper: "data", Identifier: "Email", IDFields: []string{"ID"},
		Summary: "Add Creator form records (profile params: owner, app; param: form)"},

	// Qntrl
	{JobType: "qntrl.jobs.create", Product: "qntrl", Path: "/{org_id}/job/create",
		Encoding: EncodeFormFields, Required: []string{"title", "layout_id"}, Identifier: "title",
		Summary: "Create Qntrl jobs"},

	// Bookings
	{JobType: "bookings.appointments.book", Product: "bookings", Path: "/appointment",
		Encoding: EncodeFormFields, Required: []string{"service_id", "from_time"}, Identifier: "email",
		IDFields: []string{"booking_id"},
		Summary:  "Book appointments"},

	// Catalyst
	{JobType: "catalyst.datastore.insert", Product: "catalyst", Path: "/project/{project_id}/table/{table}/row",
		WrapList: true, IDFields: []string{"ROWID"},
		Summary: "Insert Catalyst Data Store rows (params: project_id, table)"},

	// Meeting
	{JobType: "meeting.sessions.create", Product: "meeting", Path: "/{org_id}/sessions.json",
		Wrapper: "session", Required: []string{"topic"}, Identifier: "topic", IDFields: []string{"meetingKey"},
		Summary: "Schedule Meeting sessions"},

	// FSM
	{JobType: "fsm.records.create", Product: "fsm", Path: "/{module}",
		Wrapper: "data", WrapList: true, Identifier: "Email", IDFields: []string{"id"},
		Summary: "Create FSM module records (param: module)"},
}

// Register binds every catalogue entry and adds it to reg
func Register(reg *bulk.HandlerRegistry, client *Client, profiles profile.Store) error {
	for _, spec := range RecordHandlers {
		h, err := spec.Bind(client, profiles)
		if err != nil {
			return errors.Wrap(err, "failed to register zoho handlers")
		}
		reg.Register(h)
	}
	return nil
}
