package ipmi

import "fmt"

// CompletionCode is the first byte in the data field of all IPMI responses.
type CompletionCode uint8

// Completion Codes per section 5.2
const (
	CompletionOK                     CompletionCode = 0x00
	CompletionNodeBusy               CompletionCode = 0xc0
	CompletionInvalidCommand         CompletionCode = 0xc1
	CompletionInvalidForLUN          CompletionCode = 0xc2
	CompletionTimeout                CompletionCode = 0xc3
	CompletionOutOfSpace             CompletionCode = 0xc4
	CompletionReservationCancelled   CompletionCode = 0xc5
	CompletionRequestDataTruncated   CompletionCode = 0xc6
	CompletionRequestDataInvalid     CompletionCode = 0xc7
	CompletionRequestDataTooLong     CompletionCode = 0xc8
	CompletionParameterOutOfRange    CompletionCode = 0xc9
	CompletionCannotReturnBytes      CompletionCode = 0xca
	CompletionNotPresent             CompletionCode = 0xcb
	CompletionInvalidDataField       CompletionCode = 0xcc
	CompletionIllegalCommand         CompletionCode = 0xcd
	CompletionResponseUnavailable    CompletionCode = 0xce
	CompletionDuplicateRequest       CompletionCode = 0xcf
	CompletionSDRInUpdateMode        CompletionCode = 0xd0
	CompletionFirmwareUpdateMode     CompletionCode = 0xd1
	CompletionInitializing           CompletionCode = 0xd2
	CompletionDestinationUnavailable CompletionCode = 0xd3
	CompletionInsufficientPrivilege  CompletionCode = 0xd4
	CompletionNotSupportedInState    CompletionCode = 0xd5
	CompletionSubFunctionDisabled    CompletionCode = 0xd6
	CompletionUnspecified            CompletionCode = 0xff
)

var completionCodes = map[CompletionCode]string{
	CompletionOK:                     "Command completed normally",
	CompletionNodeBusy:               "Node busy",
	CompletionInvalidCommand:         "Invalid command",
	CompletionInvalidForLUN:          "Command invalid for given LUN",
	CompletionTimeout:                "Timeout",
	CompletionOutOfSpace:             "Out of space",
	CompletionReservationCancelled:   "Reservation cancelled or invalid",
	CompletionRequestDataTruncated:   "Request data truncated",
	CompletionRequestDataInvalid:     "Request data length invalid",
	CompletionRequestDataTooLong:     "Request data field length limit exceeded",
	CompletionParameterOutOfRange:    "Parameter out of range",
	CompletionCannotReturnBytes:      "Cannot return number of requested data bytes",
	CompletionNotPresent:             "Requested sensor, data, or record not present",
	CompletionInvalidDataField:       "Invalid data field in request",
	CompletionIllegalCommand:         "Command illegal for specified sensor or record type",
	CompletionResponseUnavailable:    "Command response could not be provided",
	CompletionDuplicateRequest:       "Cannot execute duplicated request",
	CompletionSDRInUpdateMode:        "SDR repository in update mode",
	CompletionFirmwareUpdateMode:     "Device in firmware update mode",
	CompletionInitializing:           "BMC initialization in progress",
	CompletionDestinationUnavailable: "Destination unavailable",
	CompletionInsufficientPrivilege:  "Insufficient privilege level",
	CompletionNotSupportedInState:    "Command not supported in present state",
	CompletionSubFunctionDisabled:    "Command sub-function disabled or unavailable",
	CompletionUnspecified:            "Unspecified error",
}

// Code returns c, so a bare CompletionCode can stand in where only the code
// of a reply matters.
func (c CompletionCode) Code() CompletionCode {
	return c
}

// Success reports whether the command completed normally.
func (c CompletionCode) Success() bool {
	return c == CompletionOK
}

func (c CompletionCode) String() string {
	if s, ok := completionCodes[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%#02x)", uint8(c))
}

// Error satisfies the error interface so that completion codes may be
// returned as errors.
func (c CompletionCode) Error() string {
	return fmt.Sprintf("completion code %#02x: %s", uint8(c), c.String())
}
