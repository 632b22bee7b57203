package service

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shestoi/paygate/internal/provider"
)

// Платёжные методы
const (
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
)

const invalidDataMessage = "The given data was invalid."

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// В ошибках используем имена полей из JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validatePaymentMethod проверяет метод и, для card, поля карты
func validatePaymentMethod(method string, details PaymentDetails) error {
	if err := validate.Var(method, "required,oneof=card bank_transfer"); err != nil {
		return &ValidationError{Message: invalidDataMessage, Reason: "payment_method: must be one of card, bank_transfer"}
	}
	if method != MethodCard {
		return nil
	}

	problems := make([]string, 0)
	if err := validate.Struct(details); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ValidationError{Message: invalidDataMessage, Reason: err.Error()}
		}
		for _, fe := range fieldErrs {
			problems = append(problems, "payment_details."+fe.Field()+": "+fe.Tag())
		}
	}
	if details.Expiry != "" {
		if _, _, err := provider.ParseExpiry(details.Expiry); err != nil {
			problems = append(problems, "payment_details.expiry: "+err.Error())
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{Message: invalidDataMessage, Reason: strings.Join(problems, "; ")}
	}
	return nil
}
