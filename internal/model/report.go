package model

// RankedCount is one row of a top-N table.
type RankedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DialysisReport summarizes the unit for the reports view.
type DialysisReport struct {
	Sessions struct {
		Total     int `json:"total"`
		Scheduled int `json:"scheduled"`
		Active    int `json:"active"`
		Completed int `json:"completed"`
		Cancelled int `json:"cancelled"`
		ThisMonth int `json:"thisMonth"`
	} `json:"sessions"`
	Patients struct {
		Total    int `json:"total"`
		Active   int `json:"active"`
		Inactive int `json:"inactive"`
	} `json:"patients"`
	Machines struct {
		Total       int `json:"total"`
		Available   int `json:"available"`
		InUse       int `json:"inUse"`
		Maintenance int `json:"maintenance"`
		// Utilization is the share of machines currently in use, in percent.
		Utilization float64 `json:"utilization"`
	} `json:"machines"`
	AverageDuration float64       `json:"averageDuration"`
	TopPatients     []RankedCount `json:"topPatients"`
	TopMachines     []RankedCount `json:"topMachines"`
}
