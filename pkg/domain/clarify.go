package domain

import (
	"errors"
	"strings"
)

var (
	notVisibleSignatures = []string{
		"box model",
		"node is not visible",
		"node does not have a layout object",
	}
	notFoundSignatures = []string{
		"no node with given id",
		"could not find node",
		"node not found",
		"no node found",
		"node with given id does not belong to the document",
	}
)

// Clarify 将已知的协议错误签名改写为元素错误，其余错误原样返回
func Clarify(err error, selector string) error {
	if err == nil {
		return nil
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return err
	}
	msg := strings.ToLower(pe.Message + " " + pe.Data)
	for _, sig := range notVisibleSignatures {
		if strings.Contains(msg, sig) {
			return &ElementError{Kind: ErrElementNotVisible, Selector: selector, Reason: pe.Message}
		}
	}
	for _, sig := range notFoundSignatures {
		if strings.Contains(msg, sig) {
			return &ElementError{Kind: ErrElementNotFound, Selector: selector, Reason: pe.Message}
		}
	}
	return err
}
