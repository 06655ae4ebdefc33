package api

import (
	"net/http"
	"sort"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
)

// summaryReport counts the pharmacy's main records.
func (h *Handler) summaryReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pharmacyID := claimsFromContext(r).PharmacyID

	counts := []struct {
		key    string
		entity orm.Entity
		where  orm.Where
	}{
		{"branches", orm.Branch, orm.Where{"pharmacyId": pharmacyID}},
		{"staff", orm.User, orm.Where{"pharmacyId": pharmacyID, "isActive": true}},
		{"completed_sales", orm.Sale, orm.Where{"pharmacyId": pharmacyID, "status": domain.SaleCompleted}},
		{"pending_sales", orm.Sale, orm.Where{"pharmacyId": pharmacyID, "status": domain.SalePending}},
		{"pending_payments", orm.Payment, orm.Where{"pharmacyId": pharmacyID, "status": domain.PaymentPending}},
	}
	out := make(map[string]int, len(counts))
	for _, c := range counts {
		n, err := h.db.Model(c.entity).Count(ctx, c.where)
		if err != nil {
			respondStoreError(w, err, "unable to build summary")
			return
		}
		out[c.key] = n
	}
	respondJSON(w, http.StatusOK, out)
}

type branchTotal struct {
	BranchID int64   `json:"branch_id"`
	Sales    int     `json:"sales"`
	Revenue  float64 `json:"revenue"`
}

type dayTotal struct {
	Date    string  `json:"date"`
	Sales   int     `json:"sales"`
	Revenue float64 `json:"revenue"`
}

type salesReport struct {
	Sales     int           `json:"sales"`
	Gross     float64       `json:"gross"`
	Discounts float64       `json:"discounts"`
	Taxes     float64       `json:"taxes"`
	Revenue   float64       `json:"revenue"`
	Average   float64       `json:"average"`
	ByBranch  []branchTotal `json:"by_branch"`
	ByDay     []dayTotal    `json:"by_day"`
}

// salesReport totals completed sales, optionally within a date range.
func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	where := orm.Where{
		"pharmacyId": claimsFromContext(r).PharmacyID,
		"status":     domain.SaleCompleted,
	}
	if from != nil {
		where["createdAt"] = orm.Between(*from, *to)
	}

	rows, err := h.db.Model(orm.Sale).FindMany(r.Context(), orm.FindArgs{
		Where:   where,
		Select:  []string{"id", "branchId", "totalAmount", "discountAmount", "taxAmount", "finalAmount", "createdAt"},
		OrderBy: orm.Asc("createdAt"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to load sales")
		return
	}
	sales, err := domain.DecodeAll[domain.Sale](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read sales")
		return
	}

	report := salesReport{ByBranch: []branchTotal{}, ByDay: []dayTotal{}}
	branches := map[int64]*branchTotal{}
	days := map[string]*dayTotal{}
	for _, s := range sales {
		report.Sales++
		report.Gross += s.TotalAmount
		report.Discounts += s.DiscountAmount
		report.Taxes += s.TaxAmount
		report.Revenue += s.FinalAmount

		b, ok := branches[s.BranchID]
		if !ok {
			b = &branchTotal{BranchID: s.BranchID}
			branches[s.BranchID] = b
		}
		b.Sales++
		b.Revenue += s.FinalAmount

		day := s.CreatedAt.UTC().Format("2006-01-02")
		d, ok := days[day]
		if !ok {
			d = &dayTotal{Date: day}
			days[day] = d
		}
		d.Sales++
		d.Revenue += s.FinalAmount
	}
	if report.Sales > 0 {
		report.Average = report.Revenue / float64(report.Sales)
	}
	for _, b := range branches {
		report.ByBranch = append(report.ByBranch, *b)
	}
	sort.Slice(report.ByBranch, func(i, j int) bool { return report.ByBranch[i].BranchID < report.ByBranch[j].BranchID })
	for _, d := range days {
		report.ByDay = append(report.ByDay, *d)
	}
	sort.Slice(report.ByDay, func(i, j int) bool { return report.ByDay[i].Date < report.ByDay[j].Date })

	respondJSON(w, http.StatusOK, report)
}
