package compute

import (
	"errors"

	"github.com/aws/smithy-go"
)

// isEC2ErrorCode checks if the error is an AWS API error with one of the given codes.
func isEC2ErrorCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, code := range codes {
			if apiErr.ErrorCode() == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates an EC2 resource no longer exists.
// Teardown treats these as already deleted.
func IsNotFound(err error) bool {
	return isEC2ErrorCode(err,
		"InvalidVpcID.NotFound",
		"InvalidInternetGatewayID.NotFound",
		"InvalidRouteTableID.NotFound",
		"InvalidSubnetID.NotFound",
		"InvalidGroup.NotFound",
		"InvalidInstanceID.NotFound",
	)
}
