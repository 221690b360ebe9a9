package schema

var (
	idColumn      = Column{Header: "ID", Field: "id"}
	branchColumn  = Column{Header: "Branch", Field: "branch_id"}
	statusColumn  = Column{Header: "Status", Field: "status"}
	createdColumn = Column{Header: "Created", Field: "created_at", Kind: KindTime}
)

// descriptors lists the known entity types in index-sheet order.
var descriptors = []*Descriptor{
	{
		Type:        Sale,
		Collection:  "sales",
		Sheet:       "Sales",
		Description: "Sales tickets with line items and payments",
		BranchField: "branch_id",
		KeyField:    "folio",
		Columns: []Column{
			idColumn,
			{Header: "Folio", Field: "folio"},
			createdColumn,
			branchColumn,
			{Header: "Seller", Field: "employee_id"},
			{Header: "Customer", Field: "customer_id"},
			{Header: "Subtotal", Field: "subtotal", Kind: KindNumber},
			{Header: "Discount", Field: "discount", Kind: KindNumber},
			{Header: "Total", Field: "total", Kind: KindNumber},
			{Header: "Currency", Field: "currency"},
			statusColumn,
			{Header: "Items", Field: "items", Kind: KindJSON},
			{Header: "Payments", Field: "payments", Kind: KindJSON},
		},
		Children: []Child{
			{Field: "items", Collection: "sale_items", ForeignKey: "sale_id"},
			{Field: "payments", Collection: "payments", ForeignKey: "sale_id"},
		},
	},
	{
		Type:        InventoryItem,
		Collection:  "inventory",
		Sheet:       "Inventory",
		Description: "Inventory pieces per branch",
		BranchField: "branch_id",
		Columns: []Column{
			idColumn,
			{Header: "SKU", Field: "sku"},
			{Header: "Name", Field: "name"},
			{Header: "Category", Field: "category"},
			{Header: "Metal", Field: "metal"},
			{Header: "Weight (g)", Field: "weight", Kind: KindNumber},
			{Header: "Price", Field: "price", Kind: KindNumber},
			{Header: "Cost", Field: "cost", Kind: KindNumber},
			{Header: "Stock", Field: "stock", Kind: KindNumber},
			branchColumn,
			statusColumn,
			{Header: "Updated", Field: "updated_at", Kind: KindTime},
		},
	},
	{
		Type:        Customer,
		Collection:  "customers",
		Sheet:       "Customers",
		Description: "Customer directory",
		Columns: []Column{
			idColumn,
			{Header: "Name", Field: "name"},
			{Header: "Phone", Field: "phone"},
			{Header: "Email", Field: "email"},
			{Header: "Nationality", Field: "nationality"},
			{Header: "Birthday", Field: "birthday"},
			{Header: "Total Spent", Field: "total_spent", Kind: KindNumber},
			{Header: "Notes", Field: "notes"},
			createdColumn,
		},
	},
	{
		Type:        Transfer,
		Collection:  "transfers",
		Sheet:       "Transfers",
		Description: "Inventory transfers between branches",
		BranchField: "from_branch_id",
		Columns: []Column{
			idColumn,
			{Header: "Folio", Field: "folio"},
			{Header: "From", Field: "from_branch_id"},
			{Header: "To", Field: "to_branch_id"},
			statusColumn,
			createdColumn,
			{Header: "Received", Field: "received_at", Kind: KindTime},
			{Header: "Items", Field: "items", Kind: KindJSON},
		},
		Children: []Child{
			{Field: "items", Collection: "transfer_items", ForeignKey: "transfer_id"},
		},
	},
	{
		Type:        CashSession,
		Collection:  "cash_sessions",
		Sheet:       "CashSessions",
		Description: "Cash register sessions and movements",
		Columns: []Column{
			idColumn,
			branchColumn,
			{Header: "Employee", Field: "employee_id"},
			{Header: "Opened", Field: "opened_at", Kind: KindTime},
			{Header: "Closed", Field: "closed_at", Kind: KindTime},
			{Header: "Opening Amount", Field: "opening_amount", Kind: KindNumber},
			{Header: "Closing Amount", Field: "closing_amount", Kind: KindNumber},
			{Header: "Expected", Field: "expected_amount", Kind: KindNumber},
			{Header: "Difference", Field: "difference", Kind: KindNumber},
			statusColumn,
			{Header: "Movements", Field: "movements", Kind: KindJSON},
		},
		Children: []Child{
			{Field: "movements", Collection: "cash_movements", ForeignKey: "session_id"},
		},
	},
	{
		Type:        TouristReport,
		Collection:  "tourist_reports",
		Sheet:       "TouristReports",
		Description: "Tourist sales reports by agency and guide",
		Columns: []Column{
			idColumn,
			branchColumn,
			{Header: "Date", Field: "date", Kind: KindTime},
			{Header: "Agency", Field: "agency_name"},
			{Header: "Guide", Field: "guide_name"},
			{Header: "Total", Field: "total", Kind: KindNumber},
			{Header: "Commission", Field: "commission", Kind: KindNumber},
			statusColumn,
			{Header: "Lines", Field: "lines", Kind: KindJSON},
		},
		Children: []Child{
			{Field: "lines", Collection: "tourist_report_lines", ForeignKey: "report_id"},
		},
	},
	{
		Type:        Employee,
		Collection:  "employees",
		Sheet:       "Employees",
		Description: "Staff accounts",
		Columns: []Column{
			idColumn,
			{Header: "Name", Field: "name"},
			{Header: "Role", Field: "role"},
			branchColumn,
			{Header: "Active", Field: "active"},
			createdColumn,
		},
	},
	{
		Type:        Branch,
		Collection:  "branches",
		Sheet:       "Branches",
		Description: "Store locations",
		Columns: []Column{
			idColumn,
			{Header: "Name", Field: "name"},
			{Header: "Address", Field: "address"},
			{Header: "Phone", Field: "phone"},
			{Header: "Active", Field: "active"},
		},
	},
	{
		Type:        Supplier,
		Collection:  "suppliers",
		Sheet:       "Suppliers",
		Description: "Suppliers and workshops",
		Columns: []Column{
			idColumn,
			{Header: "Name", Field: "name"},
			{Header: "Contact", Field: "contact"},
			{Header: "Phone", Field: "phone"},
			{Header: "Email", Field: "email"},
			createdColumn,
		},
	},
}

var byType = func() map[EntityType]*Descriptor {
	m := make(map[EntityType]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.Type] = d
	}
	return m
}()

// Lookup returns the descriptor for entityType. Unknown tags get a generic
// descriptor that uses the tag as both collection and sheet name.
func Lookup(entityType string) *Descriptor {
	if d, ok := byType[EntityType(entityType)]; ok {
		return d
	}
	return &Descriptor{
		Type:        EntityType(entityType),
		Collection:  entityType,
		Sheet:       SheetName(entityType, ""),
		Description: "Records of type " + entityType,
		Generic:     true,
	}
}

// IsKnown reports whether entityType has a fixed layout.
func IsKnown(entityType string) bool {
	_, ok := byType[EntityType(entityType)]
	return ok
}

// Known returns the descriptors of every known entity type.
func Known() []*Descriptor {
	out := make([]*Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}
