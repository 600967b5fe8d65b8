package handlers

import (
	"net/http"
	"time"

	"bank-saga/internal/domain/money"
	"bank-saga/internal/domain/saga"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/errors"
	"bank-saga/internal/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type postingRequest struct {
	AccountNumber string `json:"account_number"`
	Amount        string `json:"amount"`
}

func MakeStartSagaHandler(container HandlerDependencies) gin.HandlerFunc {
	router := container.GetEntityRouter()

	return func(c *gin.Context) {
		var req struct {
			TransactionID string           `json:"transaction_id"`
			Deposits      []postingRequest `json:"deposits"`
			Withdrawals   []postingRequest `json:"withdrawals"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			apiErr := errors.Validation("Invalid request format")
			logging.Warn("Invalid JSON in start saga request",
				logging.F("error", err.Error()), logging.F("ip", c.ClientIP()))
			c.JSON(apiErr.Status, apiErr)
			return
		}

		if len(req.Deposits)+len(req.Withdrawals) == 0 {
			apiErr := errors.EmptyParticipants()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		txID := req.TransactionID
		if txID == "" {
			txID = uuid.NewString()
		}

		cmd := saga.StartSaga{TxID: txID}
		for _, p := range req.Deposits {
			amount, err := money.ParsePositive(p.Amount)
			if err != nil {
				apiErr := errors.InvalidAmount(err.Error())
				c.JSON(apiErr.Status, apiErr)
				return
			}
			cmd.Deposits = append(cmd.Deposits, saga.Posting{AccountNumber: p.AccountNumber, Amount: amount})
		}
		for _, p := range req.Withdrawals {
			amount, err := money.ParsePositive(p.Amount)
			if err != nil {
				apiErr := errors.InvalidAmount(err.Error())
				c.JSON(apiErr.Status, apiErr)
				return
			}
			cmd.Withdrawals = append(cmd.Withdrawals, saga.Posting{AccountNumber: p.AccountNumber, Amount: amount})
		}

		replyCh := make(chan error, 1)
		cmd.Reply = replyCh
		router.Send(runtime.Ref{Kind: saga.Kind, ID: txID}, cmd)

		select {
		case err := <-replyCh:
			if err != nil {
				apiErr := errors.Validation(err.Error())
				c.JSON(apiErr.Status, apiErr)
				return
			}
		case <-time.After(queryTimeout):
			apiErr := errors.Internal()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		logging.Info("Saga accepted", logging.Tx(txID), logging.F("ip", c.ClientIP()))

		// The saga runs asynchronously; poll GET /sagas/:id or subscribe
		// to /events for the outcome.
		c.JSON(http.StatusAccepted, gin.H{"transaction_id": txID})
	}
}

func MakeGetSagaHandler(container HandlerDependencies) gin.HandlerFunc {
	router := container.GetEntityRouter()

	return func(c *gin.Context) {
		txID := c.Param("id")
		if txID == "" {
			apiErr := errors.Validation("Transaction id is required")
			c.JSON(apiErr.Status, apiErr)
			return
		}

		replyCh := make(chan saga.State, 1)
		router.Send(runtime.Ref{Kind: saga.Kind, ID: txID}, saga.GetState{Reply: replyCh})

		var state saga.State
		select {
		case state = <-replyCh:
		case <-time.After(queryTimeout):
			apiErr := errors.Internal()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		if state.Status == saga.StatusPending {
			apiErr := errors.SagaNotFound()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		resp := gin.H{
			"transaction_id": state.TxID,
			"status":         state.Status.String(),
			"participants":   state.Participants(),
			"ready":          setToList(state.Ready),
			"cleared":        setToList(state.Cleared),
			"reversed":       setToList(state.Reversed),
			"rejected":       setToList(state.Rejected),
		}
		if state.Outcome != "" {
			resp["outcome"] = string(state.Outcome)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func setToList(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
