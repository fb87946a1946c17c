/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dhcp6

import "errors"

// ErrInvalidParameter mirrors ERROR_INVALID_PARAMETER: a required Settings
// field was missing or malformed.
var ErrInvalidParameter = errors.New("dhcp6: invalid parameter")

// ErrOutOfResources mirrors ERROR_OUT_OF_RESOURCES: the client port UDP
// receiver could not be registered.
var ErrOutOfResources = errors.New("dhcp6: out of resources")
