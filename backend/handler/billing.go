package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/middleware"
	"github.com/tenantly/portal/backend/model"
	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/service"
)

type BillingHandler struct {
	store *service.Store
	now   func() time.Time
}

func NewBillingHandler(store *service.Store) *BillingHandler {
	return &BillingHandler{store: store, now: time.Now}
}

type BillView struct {
	model.Bill
	Status model.BillStatus `json:"status"`
}

// List returns the caller's billing history with the state of each bill and
// the outstanding total in minor units
func (h *BillingHandler) List(c *gin.Context) {
	bills, err := h.store.ListBills(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	now := h.now()
	views := make([]BillView, len(bills))
	var outstanding int64
	for i := range bills {
		status := bills[i].StatusAt(now)
		views[i] = BillView{Bill: bills[i], Status: status}
		if status != model.BillPaid {
			outstanding += bills[i].AmountCents
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"bills":             views,
		"outstanding_cents": outstanding,
	})
}
