package handlers

import (
	"net/http"
	"time"

	"bank-saga/internal/domain/account"
	"bank-saga/internal/infrastructure/messaging"
	"bank-saga/internal/infrastructure/runtime"
	"bank-saga/internal/pkg/errors"
	"bank-saga/internal/pkg/logging"

	"github.com/gin-gonic/gin"
)

// queryTimeout bounds synchronous waits on entity replies.
const queryTimeout = 5 * time.Second

func MakeCreateAccountHandler(container HandlerDependencies) gin.HandlerFunc {
	router := container.GetEntityRouter()
	publisher := container.GetEventPublisher()

	return func(c *gin.Context) {
		var req struct {
			CustomerNumber string `json:"customer_number"`
			AccountNumber  string `json:"account_number"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			apiErr := errors.Validation("Invalid request format")
			logging.Warn("Invalid JSON in create account request",
				logging.F("error", err.Error()), logging.F("ip", c.ClientIP()))
			c.JSON(apiErr.Status, apiErr)
			return
		}

		if req.AccountNumber == "" || req.CustomerNumber == "" {
			apiErr := errors.Validation("customer_number and account_number are required")
			c.JSON(apiErr.Status, apiErr)
			return
		}

		replyCh := make(chan error, 1)
		router.Send(runtime.Ref{Kind: account.Kind, ID: req.AccountNumber}, account.CreateBankAccount{
			CustomerNumber: req.CustomerNumber,
			AccountNumber:  req.AccountNumber,
			Reply:          replyCh,
		})

		select {
		case err := <-replyCh:
			if err != nil {
				apiErr := errors.Internal()
				logging.Error("Failed to create account", err, logging.Account(req.AccountNumber))
				c.JSON(apiErr.Status, apiErr)
				return
			}
		case <-time.After(queryTimeout):
			apiErr := errors.Internal()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		event := messaging.AccountCreatedEvent{
			AccountNumber:  req.AccountNumber,
			CustomerNumber: req.CustomerNumber,
			Timestamp:      time.Now(),
		}
		if err := publisher.PublishAccountCreated(event); err != nil {
			// Graceful degradation: the account exists even if the event
			// could not be published.
			logging.Error("Failed to publish account created event", err,
				logging.Account(req.AccountNumber))
		}

		logging.Info("Account created", logging.Account(req.AccountNumber),
			logging.F("customer", req.CustomerNumber), logging.F("ip", c.ClientIP()))

		c.JSON(http.StatusCreated, gin.H{
			"account_number":  req.AccountNumber,
			"customer_number": req.CustomerNumber,
		})
	}
}

func MakeGetAccountHandler(container HandlerDependencies) gin.HandlerFunc {
	router := container.GetEntityRouter()

	return func(c *gin.Context) {
		accountNumber := c.Param("id")
		if accountNumber == "" {
			apiErr := errors.Validation("Account number is required")
			c.JSON(apiErr.Status, apiErr)
			return
		}

		replyCh := make(chan account.State, 1)
		router.Send(runtime.Ref{Kind: account.Kind, ID: accountNumber}, account.GetState{Reply: replyCh})

		var state account.State
		select {
		case state = <-replyCh:
		case <-time.After(queryTimeout):
			apiErr := errors.Internal()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		if state.Status == account.StatusUninitialized {
			apiErr := errors.AccountNotFound()
			c.JSON(apiErr.Status, apiErr)
			return
		}

		resp := gin.H{
			"account_number":  state.AccountNumber,
			"customer_number": state.CustomerNumber,
			"status":          state.Status.String(),
			"balance":         state.Balance.String(),
			"pending_balance": state.PendingBalance.String(),
		}
		if state.CurrentTxID != "" {
			resp["current_transaction_id"] = state.CurrentTxID
		}
		c.JSON(http.StatusOK, resp)
	}
}
