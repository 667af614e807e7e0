package program

import (
	"errors"
	"fmt"
)

// CustomErrorBase is added to the ordinal of every wall program error.
const CustomErrorBase = 6000

// Error is a program failure with a stable numeric code. Callers key on Code;
// Name and Msg are for logs.
type Error struct {
	Code   uint32
	Name   string
	Msg    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s %s", e.Name, e.Code, e.Msg, e.Detail)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

// Is matches on code so sentinels compare equal to detailed copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e carrying extra context.
func (e *Error) With(format string, args ...any) *Error {
	out := *e
	out.Detail = fmt.Sprintf(format, args...)
	return &out
}

// LogLine renders the error the way it appears in transaction logs.
func (e *Error) LogLine() string {
	line := fmt.Sprintf("Program error occurred. Error Code: %s. Error Number: %d. Error Message: %s", e.Name, e.Code, e.Msg)
	if e.Detail != "" {
		line += " " + e.Detail
	}
	return line
}

// AsError extracts a program error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func custom(ordinal uint32, name, msg string) *Error {
	return &Error{Code: CustomErrorBase + ordinal, Name: name, Msg: msg}
}

// Wall program errors.
var (
	ErrEmptyMessage      = custom(0, "EmptyMessage", "Message cannot be empty.")
	ErrMessageTooLong    = custom(1, "MessageTooLong", "Message is too long.")
	ErrInsufficientFunds = custom(2, "InsufficientFunds", "Insufficient funds to pay the message fee and transaction fee.")
	ErrInvalidDevWallet  = custom(3, "InvalidDevWallet", "Dev wallet does not match the wall owner.")
)

// Runtime-mapped errors.
var (
	ErrInstructionFallbackNotFound  = &Error{Code: 101, Name: "InstructionFallbackNotFound", Msg: "Fallback functions are not supported"}
	ErrInstructionDidNotDeserialize = &Error{Code: 102, Name: "InstructionDidNotDeserialize", Msg: "The program could not deserialize the given instruction"}
	ErrConstraintMut                = &Error{Code: 2000, Name: "ConstraintMut", Msg: "A mut constraint was violated"}
	ErrAddressMismatch              = &Error{Code: 2006, Name: "ConstraintSeeds", Msg: "A seeds constraint was violated"}
	ErrAlreadyInitialized           = &Error{Code: 3000, Name: "AccountAlreadyInitialized", Msg: "The account was already initialized"}
	ErrAccountDiscriminatorMismatch = &Error{Code: 3002, Name: "AccountDiscriminatorMismatch", Msg: "Account discriminator did not match what was expected"}
	ErrAccountDidNotDeserialize     = &Error{Code: 3003, Name: "AccountDidNotDeserialize", Msg: "Failed to deserialize the account"}
	ErrAccountNotEnoughKeys         = &Error{Code: 3005, Name: "AccountNotEnoughKeys", Msg: "Not enough account keys given to the instruction"}
	ErrAccountOwnedByWrongProgram   = &Error{Code: 3007, Name: "AccountOwnedByWrongProgram", Msg: "The given account is owned by a different program than expected"}
	ErrInvalidProgramID             = &Error{Code: 3008, Name: "InvalidProgramId", Msg: "Program ID was not as expected"}
	ErrNotSigner                    = &Error{Code: 3010, Name: "AccountNotSigner", Msg: "The given account did not sign"}
	ErrNotFound                     = &Error{Code: 3012, Name: "AccountNotInitialized", Msg: "The program expected this account to be already initialized"}
)

// System transfer errors raised by the host runtime.
var (
	ErrInsufficientFundsForTransfer = &Error{Code: 1, Name: "InsufficientFundsForTransfer", Msg: "Transfer: insufficient lamports"}
	ErrLamportOverflow              = &Error{Code: 2, Name: "ArithmeticOverflow", Msg: "Transfer: lamport balance overflow"}
	ErrUnsupportedProgram           = &Error{Code: 3, Name: "UnsupportedProgramId", Msg: "Instruction targets an unknown program"}
	ErrInsufficientFundsForFee      = &Error{Code: 4, Name: "InsufficientFundsForFee", Msg: "Fee payer cannot cover the transaction fee"}
	ErrReadOnlyAccount              = &Error{Code: 5, Name: "ReadOnlyDataModified", Msg: "Instruction modified data of an account it does not own"}
)
