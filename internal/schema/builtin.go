package schema

import (
	"math"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

const hoursPerDay = 24

func builtinSchemas() []*Schema {
	return []*Schema{
		lendingVolumeSchema(),
		arrearsSchema(),
		liquidationsSchema(),
		callCenterSchema(),
		complaintsSchema(),
	}
}

func lendingVolumeSchema() *Schema {
	return &Schema{
		DatasetType:    dataset.LendingVolume,
		PrimaryDate:    "date",
		IdentityFields: []string{"account_id"},
		fields: []FieldDefinition{
			{Name: "date", Label: "Date", Type: TypeDate, Required: true,
				Synonyms: []string{"month", "period", "funded date", "application date", "loan date"}},
			{Name: "amount", Label: "Amount", Type: TypeCurrency, Required: true,
				Synonyms: []string{"loan amount", "loan_amount", "funded amount", "advance", "value", "principal"}},
			{Name: "product", Label: "Product", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"product type", "loan type", "product name"}},
			{Name: "region", Label: "Region", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"area", "branch region", "territory"}},
			{Name: "status", Label: "Status", Type: TypeCategory,
				Synonyms: []string{"application status", "loan status"}},
			{Name: "applications", Label: "Applications", Type: TypeNumber,
				Synonyms: []string{"application count", "apps", "number of applications"}},
			{Name: "approval_rate", Label: "Approval Rate", Type: TypePercentage,
				Synonyms: []string{"approval %", "approval pct", "approved rate"}},
			{Name: "account_id", Label: "Account ID", Type: TypeString, Searchable: true,
				Synonyms: []string{"account", "account number", "account no", "loan id", "agreement number"}},
			{Name: "customer_name", Label: "Customer Name", Type: TypeString, Searchable: true,
				Synonyms: []string{"customer", "borrower", "name"}},
		},
	}
}

func arrearsSchema() *Schema {
	return &Schema{
		DatasetType:    dataset.Arrears,
		PrimaryDate:    "date",
		IdentityFields: []string{"account_id", "date"},
		fields: []FieldDefinition{
			{Name: "date", Label: "Date", Type: TypeDate, Required: true,
				Synonyms: []string{"report date", "arrears date", "snapshot date", "month"}},
			{Name: "account_id", Label: "Account ID", Type: TypeString, Searchable: true,
				Synonyms: []string{"account", "account number", "account no", "agreement number", "customer id"}},
			{Name: "customer_name", Label: "Customer Name", Type: TypeString, Searchable: true,
				Synonyms: []string{"customer", "borrower", "name"}},
			{Name: "total_due", Label: "Total Due", Type: TypeCurrency, Required: true,
				Synonyms: []string{"amount due", "balance due", "arrears amount", "arrears balance"}},
			{Name: "payment_received", Label: "Payment Received", Type: TypeCurrency,
				Synonyms: []string{"payment", "amount paid", "payments", "paid"}},
			{Name: "days_past_due", Label: "Days Past Due", Type: TypeNumber,
				Synonyms: []string{"dpd", "days in arrears", "days overdue"}},
			{Name: "product", Label: "Product", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"product type", "loan type"}},
			{Name: "region", Label: "Region", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"area", "territory"}},
			{Name: "status", Label: "Status", Type: TypeCategory,
				Synonyms: []string{"arrears status", "account status", "bucket"}},
		},
		derived: []DerivedField{
			{
				Field:  FieldDefinition{Name: "outstanding_balance", Label: "Outstanding Balance", Type: TypeCurrency},
				Inputs: []string{"total_due", "payment_received"},
				Compute: func(fields map[string]any) (any, bool) {
					due, ok1 := fields["total_due"].(float64)
					paid, ok2 := fields["payment_received"].(float64)

					if !ok1 || !ok2 {
						return nil, false
					}

					return due - paid, true
				},
			},
		},
	}
}

func liquidationsSchema() *Schema {
	return &Schema{
		DatasetType:    dataset.Liquidations,
		PrimaryDate:    "date",
		IdentityFields: []string{"account_id"},
		fields: []FieldDefinition{
			{Name: "date", Label: "Date", Type: TypeDate, Required: true,
				Synonyms: []string{"liquidation date", "settlement date", "closed date"}},
			{Name: "account_id", Label: "Account ID", Type: TypeString, Searchable: true,
				Synonyms: []string{"account", "account number", "account no", "agreement number", "customer id"}},
			{Name: "customer_name", Label: "Customer Name", Type: TypeString, Searchable: true,
				Synonyms: []string{"customer", "borrower", "name"}},
			{Name: "liquidated_amount", Label: "Liquidated Amount", Type: TypeCurrency, Required: true,
				Synonyms: []string{"amount", "liquidation amount", "written off", "write off amount"}},
			{Name: "recovered_amount", Label: "Recovered Amount", Type: TypeCurrency,
				Synonyms: []string{"recovered", "recovery amount", "amount recovered"}},
			{Name: "agency", Label: "Agency", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"collection agency", "dca", "debt collector"}},
			{Name: "product", Label: "Product", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"product type", "loan type"}},
			{Name: "region", Label: "Region", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"area", "territory"}},
			{Name: "status", Label: "Status", Type: TypeCategory,
				Synonyms: []string{"liquidation status", "outcome"}},
		},
		derived: []DerivedField{
			{
				Field:  FieldDefinition{Name: "recovery_rate", Label: "Recovery Rate", Type: TypePercentage},
				Inputs: []string{"recovered_amount", "liquidated_amount"},
				Compute: func(fields map[string]any) (any, bool) {
					recovered, ok1 := fields["recovered_amount"].(float64)
					liquidated, ok2 := fields["liquidated_amount"].(float64)

					if !ok1 || !ok2 || liquidated == 0 {
						return nil, false
					}

					return recovered / liquidated * 100, true
				},
			},
		},
	}
}

func callCenterSchema() *Schema {
	return &Schema{
		DatasetType:    dataset.CallCenter,
		PrimaryDate:    "date",
		IdentityFields: []string{"agent", "date"},
		fields: []FieldDefinition{
			{Name: "date", Label: "Date", Type: TypeDate, Required: true,
				Synonyms: []string{"call date", "day", "period"}},
			{Name: "agent", Label: "Agent", Type: TypeString, Searchable: true,
				Synonyms: []string{"agent name", "advisor", "adviser", "operator"}},
			{Name: "team", Label: "Team", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"queue", "department", "team name"}},
			{Name: "calls_received", Label: "Calls Received", Type: TypeNumber, Required: true,
				Synonyms: []string{"calls", "inbound calls", "calls offered", "total calls"}},
			{Name: "calls_answered", Label: "Calls Answered", Type: TypeNumber,
				Synonyms: []string{"answered", "calls handled", "handled"}},
			{Name: "average_handle_time", Label: "Average Handle Time", Type: TypeNumber,
				Synonyms: []string{"aht", "handle time", "avg handle time"}},
			{Name: "abandonment_rate", Label: "Abandonment Rate", Type: TypePercentage,
				Synonyms: []string{"abandon rate", "abandoned %", "abandonment %"}},
			{Name: "service_level", Label: "Service Level", Type: TypePercentage,
				Synonyms: []string{"sla", "service level %"}},
			{Name: "region", Label: "Region", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"site", "location"}},
		},
		derived: []DerivedField{
			{
				Field:  FieldDefinition{Name: "answer_rate", Label: "Answer Rate", Type: TypePercentage},
				Inputs: []string{"calls_answered", "calls_received"},
				Compute: func(fields map[string]any) (any, bool) {
					answered, ok1 := fields["calls_answered"].(float64)
					received, ok2 := fields["calls_received"].(float64)

					if !ok1 || !ok2 || received == 0 {
						return nil, false
					}

					return answered / received * 100, true
				},
			},
		},
	}
}

func complaintsSchema() *Schema {
	return &Schema{
		DatasetType:    dataset.Complaints,
		PrimaryDate:    "received_date",
		IdentityFields: []string{"complaint_id"},
		fields: []FieldDefinition{
			{Name: "received_date", Label: "Received Date", Type: TypeDate, Required: true,
				Synonyms: []string{"date", "date received", "complaint date", "opened date"}},
			{Name: "complaint_id", Label: "Complaint ID", Type: TypeString, Searchable: true,
				Synonyms: []string{"complaint reference", "complaint ref", "reference", "case id"}},
			{Name: "customer_id", Label: "Customer ID", Type: TypeString, Searchable: true,
				Synonyms: []string{"customer number", "account", "account number"}},
			{Name: "customer_name", Label: "Customer Name", Type: TypeString, Searchable: true,
				Synonyms: []string{"customer", "complainant", "name"}},
			{Name: "category", Label: "Category", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"complaint type", "type", "complaint category", "reason"}},
			{Name: "product", Label: "Product", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"product type"}},
			{Name: "region", Label: "Region", Type: TypeCategory, Searchable: true,
				Synonyms: []string{"area", "territory"}},
			{Name: "status", Label: "Status", Type: TypeCategory, Required: true,
				Synonyms: []string{"complaint status", "outcome", "state"}},
			{Name: "resolved_date", Label: "Resolved Date", Type: TypeDate,
				Synonyms: []string{"date resolved", "closed date", "resolution date"}},
			{Name: "compensation", Label: "Compensation", Type: TypeCurrency,
				Synonyms: []string{"redress", "compensation amount", "goodwill"}},
			{Name: "description", Label: "Description", Type: TypeString, Searchable: true,
				Synonyms: []string{"details", "summary", "notes"}},
		},
		derived: []DerivedField{
			{
				Field:  FieldDefinition{Name: "days_to_resolve", Label: "Days to Resolve", Type: TypeNumber},
				Inputs: []string{"received_date", "resolved_date"},
				Compute: func(fields map[string]any) (any, bool) {
					received, ok1 := fields["received_date"].(time.Time)
					resolved, ok2 := fields["resolved_date"].(time.Time)

					if !ok1 || !ok2 {
						return nil, false
					}

					return math.Round(resolved.Sub(received).Hours() / hoursPerDay), true
				},
			},
		},
	}
}
