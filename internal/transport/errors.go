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

package transport

import "errors"

// ErrOutOfResources is returned when a socket/callback slot cannot be
// allocated.
var ErrOutOfResources = errors.New("transport: out of resources")

// ErrOutOfMemory is returned when an outgoing datagram cannot be allocated;
// the caller treats this as an implicit no-op retried on the next
// retransmit tick.
var ErrOutOfMemory = errors.New("transport: out of memory")
