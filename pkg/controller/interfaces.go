/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package controller

import (
	"context"

	"github.com/carverauto/edgefleet/pkg/connection"
	"github.com/carverauto/edgefleet/pkg/models"
)

// Channels is the command channel surface the controller drives.
// *connection.Manager implements it.
type Channels interface {
	Connect(ctx context.Context, reg models.Registration) bool
	Disconnect(id int, allowReconnect bool)
	Reconnect(reg models.Registration) bool
	Forget(id int)
	SendCommand(id int, command string, data interface{}) bool
	IsConnected(id int) bool
	State(id int) models.ConnectionState
	ConnectedCount() int
	Close()
}

var _ Channels = (*connection.Manager)(nil)
