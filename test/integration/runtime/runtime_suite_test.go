// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

//go:build integration

package runtime_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestRuntime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Plugin Runtime Integration Suite")
}
